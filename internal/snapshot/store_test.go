package snapshot

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreRejectsNegativeCapacity(t *testing.T) {
	if _, err := NewStore(-1); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}

func TestStoreAppendAndLatest(t *testing.T) {
	store, err := NewStore(10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, ok := store.Latest(); ok {
		t.Error("Latest on empty store should report not ok")
	}
	if store.Count() != 0 {
		t.Errorf("Count = %d, want 0", store.Count())
	}

	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	first := store.Add(t0, []byte("frame-0"))
	second := store.Add(t0.Add(time.Second), []byte("frame-1"))

	if first.ID == "" || first.ID == second.ID {
		t.Error("snapshots must get unique non-empty IDs")
	}

	latest, ok := store.Latest()
	if !ok {
		t.Fatal("Latest should report ok after Add")
	}
	if string(latest.Image) != "frame-1" {
		t.Errorf("Latest image = %q, want frame-1", latest.Image)
	}
	if store.Count() != 2 {
		t.Errorf("Count = %d, want 2", store.Count())
	}
}

func TestStoreEvictsOldestAtCapacity(t *testing.T) {
	store, err := NewStore(3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.Add(base.Add(time.Duration(i)*time.Second), []byte(fmt.Sprintf("frame-%d", i)))
	}

	if store.Count() != 3 {
		t.Fatalf("Count = %d, want 3", store.Count())
	}

	all := store.All()
	want := []string{"frame-2", "frame-3", "frame-4"}
	for i, entry := range all {
		if string(entry.Image) != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, entry.Image, want[i])
		}
	}
}

// TestStoreEvictionClearsBackingArray drives the store through many
// eviction cycles and checks that the live window stays correct while
// earlier All() results are unaffected by later evictions.
func TestStoreEvictionClearsBackingArray(t *testing.T) {
	store, err := NewStore(3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var earlier []Snapshot
	for i := 0; i < 50; i++ {
		store.Add(base.Add(time.Duration(i)*time.Second), []byte(fmt.Sprintf("frame-%d", i)))
		if i == 10 {
			earlier = store.All()
		}
	}

	if store.Count() != 3 {
		t.Fatalf("Count = %d, want 3", store.Count())
	}
	all := store.All()
	want := []string{"frame-47", "frame-48", "frame-49"}
	for i, entry := range all {
		if string(entry.Image) != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, entry.Image, want[i])
		}
	}

	latest, ok := store.Latest()
	if !ok || string(latest.Image) != "frame-49" {
		t.Errorf("Latest = %q, want frame-49", latest.Image)
	}
	if _, err := store.Get(all[0].ID); err != nil {
		t.Errorf("Get(oldest live): %v", err)
	}

	// The copy handed out at i == 10 must still hold its own entries.
	wantEarlier := []string{"frame-8", "frame-9", "frame-10"}
	for i, entry := range earlier {
		if string(entry.Image) != wantEarlier[i] {
			t.Errorf("earlier[%d] = %q, want %q", i, entry.Image, wantEarlier[i])
		}
	}
}

func TestStoreAllIsOldestFirst(t *testing.T) {
	store, _ := NewStore(0)

	base := time.Now()
	for i := 0; i < 4; i++ {
		store.Add(base.Add(time.Duration(i)*time.Second), []byte{byte(i)})
	}

	all := store.All()
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatal("All() is not in insertion order")
		}
	}
}

func TestStoreUnboundedCapacity(t *testing.T) {
	store, _ := NewStore(0)

	for i := 0; i < 100; i++ {
		store.Add(time.Now(), []byte("frame"))
	}
	if store.Count() != 100 {
		t.Errorf("Count = %d, want 100 for unbounded store", store.Count())
	}
}

func TestStoreGetByID(t *testing.T) {
	store, _ := NewStore(2)

	evicted := store.Add(time.Now(), []byte("old"))
	kept := store.Add(time.Now(), []byte("mid"))
	store.Add(time.Now(), []byte("new"))

	if _, err := store.Get(evicted.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(evicted) err = %v, want ErrNotFound", err)
	}

	got, err := store.Get(kept.ID)
	if err != nil {
		t.Fatalf("Get(kept): %v", err)
	}
	if string(got.Image) != "mid" {
		t.Errorf("Get image = %q, want mid", got.Image)
	}

	if _, err := store.Get("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store, _ := NewStore(8)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.Add(time.Now(), []byte("frame"))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.Latest()
				store.All()
				store.Count()
			}
		}()
	}
	wg.Wait()

	if store.Count() != 8 {
		t.Errorf("Count = %d, want capacity 8 after heavy appends", store.Count())
	}
}
