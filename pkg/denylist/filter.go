// Package denylist suppresses known device addresses from scan results.
//
// The list is loaded once per process. A failed or unconfigured load leaves
// an empty list, which filters nothing.
package denylist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/censys/radio-survey/internal/logging"
)

// ErrFetch wraps every failure to obtain or decode the remote list.
var ErrFetch = errors.New("denylist fetch failed")

// Source returns the raw denylisted addresses.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)
}

// Metrics records the loaded list size.
type Metrics interface {
	SetDenylistSize(n int)
}

// Filter answers membership queries against the loaded list.
type Filter struct {
	source  Source
	log     logging.Logger
	metrics Metrics

	refreshMu   sync.Mutex // serialises Refresh
	mu          sync.RWMutex
	set         map[string]struct{}
	initialized bool
}

// NewFilter constructs a Filter. A nil source means no list is configured.
func NewFilter(source Source, log logging.Logger, metrics Metrics) *Filter {
	if log == nil {
		log = logging.Noop()
	}
	return &Filter{
		source:  source,
		log:     log,
		metrics: metrics,
		set:     map[string]struct{}{},
	}
}

// Refresh loads the list from the source. Only the first call fetches; later
// calls are no-ops. On failure the list is cleared, the filter is still
// marked initialized, and an error wrapping ErrFetch is returned.
func (f *Filter) Refresh(ctx context.Context) error {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	if f.Initialized() {
		f.log.Debug(ctx, "denylist already initialized")
		return nil
	}

	if f.source == nil {
		f.log.Warn(ctx, "denylist source not configured; nothing will be filtered")
		f.replace(map[string]struct{}{})
		return nil
	}

	addrs, err := f.source.Fetch(ctx)
	if err != nil {
		f.log.Warn(ctx, "denylist fetch failed; filtering disabled", logging.Error(err))
		f.replace(map[string]struct{}{})
		if errors.Is(err, ErrFetch) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	next := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if n := Normalize(a); n != "" {
			next[n] = struct{}{}
		}
	}
	f.replace(next)
	f.log.Info(ctx, "denylist loaded", logging.Int("entries", len(next)))
	return nil
}

func (f *Filter) replace(next map[string]struct{}) {
	f.mu.Lock()
	f.set = next
	f.initialized = true
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SetDenylistSize(len(next))
	}
}

// IsFiltered reports whether addr is denylisted. Blank input is never
// filtered.
func (f *Filter) IsFiltered(addr string) bool {
	n := Normalize(addr)
	if n == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[n]
	return ok
}

// Initialized reports whether Refresh has completed, successfully or not.
func (f *Filter) Initialized() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.initialized
}

// Len returns the number of loaded entries.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.set)
}

// Snapshot returns a sorted copy of the loaded entries.
func (f *Filter) Snapshot() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.set))
	for a := range f.set {
		out = append(out, a)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Normalize trims and upper-cases a hardware address.
func Normalize(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
