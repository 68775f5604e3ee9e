package nonce

import (
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestMemoryInitIdempotent(t *testing.T) {
	s := NewMemoryStore()
	created, err := s.Init("btce", 1000)
	if err != nil || !created {
		t.Fatalf("first init: created=%v err=%v", created, err)
	}
	created, err = s.Init("btce", 9999)
	if err != nil {
		t.Fatalf("second init err: %v", err)
	}
	if created {
		t.Fatal("second init must be a no-op")
	}
	// 起始值 1000，三次取号得 1001 1002 1003
	for _, want := range []int64{1001, 1002, 1003} {
		got, err := s.Next("btce")
		if err != nil {
			t.Fatalf("next err: %v", err)
		}
		if got != want {
			t.Fatalf("next = %d, want %d", got, want)
		}
	}
}

func runConcurrent(t *testing.T, s Store) {
	t.Helper()
	if _, err := s.Init("kraken", 0); err != nil {
		t.Fatalf("init err: %v", err)
	}
	const n = 64
	out := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Next("kraken")
			if err != nil {
				t.Errorf("next err: %v", err)
				return
			}
			out <- v
		}()
	}
	wg.Wait()
	close(out)

	seen := make([]int64, 0, n)
	for v := range out {
		seen = append(seen, v)
	}
	if len(seen) != n {
		t.Fatalf("got %d values, want %d", len(seen), n)
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, v := range seen {
		if v != int64(i+1) {
			t.Fatalf("values not a dense increasing sequence at %d: %d", i, v)
		}
	}
}

func TestMemoryConcurrentMonotonic(t *testing.T) {
	runConcurrent(t, NewMemoryStore())
}

func TestSQLiteConcurrentMonotonic(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nonce.db"))
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	defer s.Close()
	runConcurrent(t, s)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	if _, err := s.Init("bitstamp", 100); err != nil {
		t.Fatalf("init err: %v", err)
	}
	if v, _ := s.Next("bitstamp"); v != 101 {
		t.Fatalf("next = %d, want 101", v)
	}
	s.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen err: %v", err)
	}
	defer s2.Close()
	created, err := s2.Init("bitstamp", 100)
	if err != nil {
		t.Fatalf("reinit err: %v", err)
	}
	if created {
		t.Fatal("reinit after reopen must be a no-op")
	}
	if v, _ := s2.Next("bitstamp"); v != 102 {
		t.Fatalf("next after reopen = %d, want 102", v)
	}
}

func TestNextWithoutInitSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nonce.db"))
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	defer s.Close()
	if _, err := s.Next("ghost"); err == nil {
		t.Fatal("expected error for uninitialized venue")
	}
}

func TestBoundedStartWithinWindow(t *testing.T) {
	start := BoundedStart(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	if start <= 0 {
		t.Fatalf("start %d must be positive", start)
	}
	if start >= Bounded32 {
		t.Fatalf("start %d exceeds the 32-bit ceiling", start)
	}
	// 视窗末端仍在上限内
	end := BoundedStart(time.Date(2034, 4, 1, 0, 0, 0, 0, time.UTC))
	if end >= Bounded32 {
		t.Fatalf("end-of-horizon start %d exceeds ceiling", end)
	}
}
