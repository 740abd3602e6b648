package denylist

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubSource struct {
	called int
	addrs  []string
	err    error
}

func (s *stubSource) Fetch(ctx context.Context) ([]string, error) {
	s.called++
	return s.addrs, s.err
}

type stubMetrics struct{ size int }

func (s *stubMetrics) SetDenylistSize(n int) { s.size = n }

func TestFilterNormalizesAddresses(t *testing.T) {
	src := &stubSource{addrs: []string{" aa:bb:cc:dd:ee:ff ", "", "   "}}
	metrics := &stubMetrics{}
	f := NewFilter(src, nil, metrics)

	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"AA:BB:CC:DD:EE:FF", true},
		{"aa:bb:cc:dd:ee:ff", true},
		{"  Aa:bB:cc:DD:ee:FF\t", true},
		{"11:22:33:44:55:66", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := f.IsFiltered(tt.addr); got != tt.want {
			t.Fatalf("IsFiltered(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
	if f.Len() != 1 || metrics.size != 1 {
		t.Fatalf("expected exactly one entry, got len=%d metric=%d", f.Len(), metrics.size)
	}
}

func TestFilterRefreshIsSingleShot(t *testing.T) {
	src := &stubSource{addrs: []string{"AA:BB:CC:DD:EE:FF"}}
	f := NewFilter(src, nil, nil)

	for i := 0; i < 3; i++ {
		if err := f.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh #%d: %v", i, err)
		}
	}
	if src.called != 1 {
		t.Fatalf("expected one fetch, got %d", src.called)
	}
}

func TestFilterFetchFailureInitializesEmpty(t *testing.T) {
	src := &stubSource{err: errors.New("connection refused")}
	f := NewFilter(src, nil, nil)

	err := f.Refresh(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if !f.Initialized() {
		t.Fatalf("filter must be initialized after a failed fetch")
	}
	if f.IsFiltered("AA:BB:CC:DD:EE:FF") {
		t.Fatalf("empty filter must not filter anything")
	}

	// No second attempt after failure.
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if src.called != 1 {
		t.Fatalf("expected one fetch, got %d", src.called)
	}
}

func TestFilterWithoutSource(t *testing.T) {
	f := NewFilter(nil, nil, nil)
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !f.Initialized() || f.Len() != 0 {
		t.Fatalf("expected initialized empty filter")
	}
}

func TestFilterConcurrentReadsDuringRefresh(t *testing.T) {
	addrs := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		addrs = append(addrs, string(rune('A'+i%26))+":00")
	}
	f := NewFilter(&stubSource{addrs: addrs}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				f.IsFiltered("A:00")
				_ = f.Snapshot()
			}
		}()
	}
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	wg.Wait()

	if !f.IsFiltered("a:00") {
		t.Fatalf("expected entry after refresh")
	}
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	f := NewFilter(&stubSource{addrs: []string{"bb", "aa"}}, nil, nil)
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := f.Snapshot()
	if len(snap) != 2 || snap[0] != "AA" || snap[1] != "BB" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	snap[0] = "ZZ"
	if f.IsFiltered("ZZ") {
		t.Fatalf("snapshot must not alias the internal set")
	}
}
