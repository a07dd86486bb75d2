package session

import (
	"context"

	"github.com/local/pageforge/internal/store"
)

type redisMirrorAdapter struct{ m *store.RedisMirror }

// NewRedisMirror adapts the Redis-backed status store to the Mirror
// interface.
func NewRedisMirror(m *store.RedisMirror) Mirror { return &redisMirrorAdapter{m: m} }

func (a *redisMirrorAdapter) Write(ctx context.Context, snap Snapshot) error {
	return a.m.Set(ctx, snap.ID, store.SessionStatus{
		State:           string(snap.State),
		Progress:        snap.Progress,
		DocName:         snap.DocName,
		PageCount:       snap.PageCount,
		Images:          snap.Images,
		FailedPages:     snap.FailedPages,
		InsightDegraded: snap.Insight != nil && snap.Insight.Degraded,
		UpdatedAt:       snap.UpdatedAt,
	})
}
