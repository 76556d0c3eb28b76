package testfixtures

import (
	"sync"
	"testing"
)

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("meeting")
	if first, second := gen.Next(), gen.Next(); first != "meeting-1" || second != "meeting-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}

	gen.Reset("m")
	if next := gen.Next(); next != "m-1" {
		t.Fatalf("expected m-1 after reset, got %q", next)
	}
}

func TestIDGeneratorIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("")
	next := gen.NextFunc()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := next()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 16 {
		t.Fatalf("expected 16 unique ids, got %d", len(seen))
	}
}
