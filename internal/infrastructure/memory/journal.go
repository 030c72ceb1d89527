package memory

import (
	"context"
	"sync"
	"time"

	"github.com/solentline/paybridge/internal/domain/journal"
)

// Journal is an in-memory reconciliation journal. It backs the operator
// surface only; settlement and refund correctness never reads from it.
type Journal struct {
	mu      sync.RWMutex
	entries []journal.Entry
	max     int
}

func NewJournal() *Journal {
	return &Journal{max: 1024}
}

func (j *Journal) Record(ctx context.Context, e journal.Entry) {
	_ = ctx
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, e)
	if len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
}

// List returns recorded entries, newest first.
func (j *Journal) List(ctx context.Context) []journal.Entry {
	_ = ctx

	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]journal.Entry, len(j.entries))
	for i, e := range j.entries {
		out[len(j.entries)-1-i] = e
	}
	return out
}
