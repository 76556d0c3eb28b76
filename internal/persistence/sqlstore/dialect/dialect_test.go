package dialect

import (
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	query := "SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?"
	if got := SQLite.Rebind(query); got != query {
		t.Fatalf("expected sqlite query unchanged, got %q", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2"
	if got := Postgres.Rebind(query); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Dialect{"sqlite": SQLite, "PGX": Postgres, "postgres": Postgres} {
		got, err := Parse(name)
		if err != nil || got != want {
			t.Fatalf("Parse(%q) = %q, %v; expected %q", name, got, err, want)
		}
	}
	if _, err := Parse("mysql"); err == nil {
		t.Fatal("expected mysql to be rejected")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	jst := time.FixedZone("JST", 9*60*60)
	in := time.Date(2024, time.June, 1, 18, 30, 0, 500, jst)
	encoded, ok := SQLite.Time(in).(string)
	if !ok {
		t.Fatalf("expected sqlite to encode as string, got %T", SQLite.Time(in))
	}
	var ts Timestamp
	if err := ts.Scan(encoded); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !ts.Valid || !ts.Time.Equal(in) {
		t.Fatalf("expected %v, got %v", in, ts.Time)
	}

	earlier := SQLite.Time(in.Add(-time.Nanosecond)).(string)
	if !(earlier < encoded) {
		t.Fatalf("expected text encoding to preserve order: %s >= %s", earlier, encoded)
	}

	var null Timestamp
	if err := null.Scan(nil); err != nil || null.Valid || null.Ptr() != nil {
		t.Fatalf("expected NULL to scan as invalid, got %#v %v", null, err)
	}
	if err := null.Scan(42); err == nil {
		t.Fatal("expected unsupported type to fail")
	}
}
