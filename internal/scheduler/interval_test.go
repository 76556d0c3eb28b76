package scheduler

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func mustInterval(start, end time.Time) TimeInterval {
	iv, err := NewTimeInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

func TestNewTimeInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		start, end time.Time
		wantErr    bool
	}{
		{name: "valid", start: at(0), end: at(30)},
		{name: "equal bounds", start: at(0), end: at(0), wantErr: true},
		{name: "reversed", start: at(30), end: at(0), wantErr: true},
		{name: "zero start", end: at(30), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			iv, err := NewTimeInterval(tc.start, tc.end)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInterval) {
					t.Fatalf("expected ErrInvalidInterval, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if iv.Duration() != 30*time.Minute {
				t.Fatalf("expected 30m duration, got %v", iv.Duration())
			}
		})
	}
}

func TestTimeIntervalOverlaps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b TimeInterval
		want bool
	}{
		{name: "partial", a: mustInterval(at(0), at(60)), b: mustInterval(at(30), at(90)), want: true},
		{name: "nested", a: mustInterval(at(0), at(60)), b: mustInterval(at(10), at(20)), want: true},
		{name: "identical", a: mustInterval(at(0), at(60)), b: mustInterval(at(0), at(60)), want: true},
		{name: "touching", a: mustInterval(at(0), at(60)), b: mustInterval(at(60), at(90)), want: false},
		{name: "disjoint", a: mustInterval(at(0), at(30)), b: mustInterval(at(45), at(90)), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Fatalf("expected a.Overlaps(b)=%v, got %v", tc.want, got)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Fatalf("expected symmetric result %v, got %v", tc.want, got)
			}
		})
	}
}

func TestTimeIntervalContainsIsClosed(t *testing.T) {
	t.Parallel()

	iv := mustInterval(at(0), at(60))
	for _, tm := range []time.Time{at(0), at(30), at(60)} {
		if !iv.Contains(tm) {
			t.Fatalf("expected %v to be contained", tm)
		}
	}
	if iv.Contains(at(61)) || iv.Contains(at(-1)) {
		t.Fatal("expected instants outside the bounds to be excluded")
	}
}

func TestTimeIntervalEqualAcrossZones(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	a := mustInterval(at(0), at(60))
	b := mustInterval(at(0).In(tokyo), at(60).In(tokyo))
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
}
