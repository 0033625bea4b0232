package ids

import (
	"sort"
	"sync"
	"testing"
)

func TestNewReturnsUniqueSortableIDs(t *testing.T) {
	const n = 256
	seen := make(map[string]struct{}, n)
	var list []string
	for i := 0; i < n; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected ULID length: %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
		list = append(list, id)
	}
	if !sort.StringsAreSorted(list) {
		t.Fatalf("ids generated in sequence are not sorted")
	}
}

func TestNewIsSafeForConcurrentUse(t *testing.T) {
	const workers = 8
	const perWorker = 64

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}
