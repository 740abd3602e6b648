package main

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/censys/radio-survey/pkg/denylist"
	"github.com/censys/radio-survey/pkg/storage"
)

type memRepo struct {
	entries map[string]storage.DenylistEntry
	err     error
}

func newMemRepo() *memRepo {
	return &memRepo{entries: map[string]storage.DenylistEntry{}}
}

func (m *memRepo) UpsertEntry(ctx context.Context, e storage.DenylistEntry) error {
	if m.err != nil {
		return m.err
	}
	e.Address = denylist.Normalize(e.Address)
	if prev, ok := m.entries[e.Address]; ok {
		e.AddedAt = prev.AddedAt
	} else if e.AddedAt.IsZero() {
		e.AddedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	m.entries[e.Address] = e
	return nil
}

func (m *memRepo) DeleteEntry(ctx context.Context, addr string) (bool, error) {
	addr = denylist.Normalize(addr)
	_, ok := m.entries[addr]
	delete(m.entries, addr)
	return ok, m.err
}

func (m *memRepo) ListEntries(ctx context.Context) ([]storage.DenylistEntry, error) {
	out := make([]storage.DenylistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, m.err
}

func TestExecuteAddListRemove(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	var out bytes.Buffer

	if err := execute(ctx, repo, &out, []string{"add", " aa:bb:cc:dd:ee:ff ", "office printer"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out.String(), "added AA:BB:CC:DD:EE:FF") {
		t.Fatalf("unexpected add output: %q", out.String())
	}

	out.Reset()
	if err := execute(ctx, repo, &out, []string{"list"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "AA:BB:CC:DD:EE:FF") || !strings.Contains(out.String(), "office printer") {
		t.Fatalf("unexpected list output: %q", out.String())
	}

	out.Reset()
	if err := execute(ctx, repo, &out, []string{"remove", "AA:BB:CC:DD:EE:FF"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := execute(ctx, repo, &out, []string{"remove", "AA:BB:CC:DD:EE:FF"}); err == nil {
		t.Fatalf("expected error removing a missing address")
	}
}

func TestExecuteRejectsBadInvocations(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	var out bytes.Buffer

	if err := execute(ctx, repo, &out, nil); !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for empty args, got %v", err)
	}
	if err := execute(ctx, repo, &out, []string{"add"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for missing address, got %v", err)
	}
	if err := execute(ctx, repo, &out, []string{"list", "extra"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for extra args, got %v", err)
	}
	if err := execute(ctx, repo, &out, []string{"purge"}); err == nil || errors.Is(err, errUsage) {
		t.Fatalf("expected unrecognized command error, got %v", err)
	}
}

func TestRunShell(t *testing.T) {
	repo := newMemRepo()
	in := strings.NewReader(strings.Join([]string{
		`add 11:22:33:44:55:66 "lobby beacon"`,
		``,
		`add "unterminated`,
		`remove 00:00:00:00:00:00`,
		`list`,
		`exit`,
		`add ff:ff:ff:ff:ff:ff`,
	}, "\n"))
	var out, errOut bytes.Buffer

	if err := runShell(context.Background(), repo, in, &out, &errOut, time.Second); err != nil {
		t.Fatalf("runShell: %v", err)
	}
	if e, ok := repo.entries["11:22:33:44:55:66"]; !ok || e.Note != "lobby beacon" {
		t.Fatalf("quoted note not preserved: %+v", repo.entries)
	}
	if _, ok := repo.entries["FF:FF:FF:FF:FF:FF"]; ok {
		t.Fatalf("commands after exit must not run")
	}
	if !strings.Contains(errOut.String(), "invalid command") || !strings.Contains(errOut.String(), "not denylisted") {
		t.Fatalf("expected errors reported, got %q", errOut.String())
	}
	if !strings.Contains(out.String(), "lobby beacon") {
		t.Fatalf("list output missing: %q", out.String())
	}
}
