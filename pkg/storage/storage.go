package storage

import (
	"context"
	"time"
)

// DenylistEntry is one excluded hardware address as stored by operators.
type DenylistEntry struct {
	Address string
	Note    string
	AddedAt time.Time
}

// DenylistRepository defines persistence operations for the denylist.
type DenylistRepository interface {
	UpsertEntry(ctx context.Context, entry DenylistEntry) error
	DeleteEntry(ctx context.Context, address string) (bool, error)
	ListEntries(ctx context.Context) ([]DenylistEntry, error)
}
