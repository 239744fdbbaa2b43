package ids

import (
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

func TestGenerator_NoCollisionsWithinMillisecond(t *testing.T) {
	g := NewGenerator()

	const n = 10000
	seen := make(map[snowflake.ID]struct{}, n)
	var prev snowflake.ID
	for i := 0; i < n; i++ {
		id := g.Next()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s after %d ids", id, i)
		}
		if id <= prev {
			t.Fatalf("id %s not greater than previous %s", id, prev)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	g := NewGenerator()

	const workers = 8
	const perWorker = 1000

	results := make(chan snowflake.ID, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				results <- g.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[snowflake.ID]struct{}, workers*perWorker)
	for id := range results {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s issued concurrently", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != workers*perWorker {
		t.Errorf("unique ids = %d, want %d", len(seen), workers*perWorker)
	}
}
