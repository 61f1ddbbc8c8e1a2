// Package eventlog is the append-only audit trail of reads and writes
// (spec.md §4.9). Writes that fail mid-way leave no event; event-log
// failure itself never blocks the primary operation (spec.md §7) but is
// logged out-of-band, mirroring the teacher's event-buffer design in
// internal/storage/events.go generalized from decisions to every kind.
package eventlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/memoryd/internal/identity"
	"github.com/ashita-ai/memoryd/internal/model"
)

// Store is the persistence contract for events, kept separate from the
// registries so a Log failure can be swallowed without touching them.
type Store interface {
	Append(ctx context.Context, e model.Event) error
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// Log appends events best-effort: a failure is logged and swallowed so it
// never blocks the operation it's describing.
type Log struct {
	store  Store
	logger *slog.Logger
}

// New constructs a Log. store may be nil, in which case Append is a no-op —
// useful for tests that don't care about the audit trail.
func New(store Store, logger *slog.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// Append records one event. Errors are logged out-of-band, never returned.
func (l *Log) Append(ctx context.Context, kind model.EventKind, operation string, ids []string) {
	if l == nil || l.store == nil {
		return
	}
	e := model.Event{
		ID:        identity.NewRandomID(),
		Kind:      kind,
		Operation: operation,
		IDs:       ids,
		Timestamp: time.Now(),
	}
	if err := l.store.Append(ctx, e); err != nil {
		l.logger.Warn("eventlog: append failed", "operation", operation, "error", err)
	}
}

// ListByTimeRange retrieves events within [from, to), the only retrieval
// mode the spec names.
func (l *Log) ListByTimeRange(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.ListByTimeRange(ctx, from, to)
}

// Checkpoint computes a Merkle root over a set of events' ids, letting
// callers produce a tamper-evident summary of a time range without
// re-reading the full log (adapted from the teacher's audit-trail design).
func Checkpoint(events []model.Event) string {
	leaves := make([]string, 0, len(events))
	for _, e := range events {
		leaves = append(leaves, e.ID)
	}
	return identity.MerkleRoot(leaves)
}
