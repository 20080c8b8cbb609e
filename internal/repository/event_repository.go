package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// GroupTestEventRepository persists monitor events for later audit.
type GroupTestEventRepository struct {
	pool *pgxpool.Pool
}

// NewGroupTestEventRepository creates a new GroupTestEventRepository.
func NewGroupTestEventRepository(pool *pgxpool.Pool) *GroupTestEventRepository {
	return &GroupTestEventRepository{pool: pool}
}

// InsertBatch bulk-loads events with COPY.
func (r *GroupTestEventRepository) InsertBatch(ctx context.Context, events []model.GroupTestEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"group_test_events"},
		[]string{"session_id", "event", "phase", "remaining_seconds", "answered_count", "detail", "occurred_at"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.SessionID, e.Event, string(e.Phase), e.RemainingSeconds, e.AnsweredCount, e.Detail, e.OccurredAt}, nil
		}),
	)
}

// Insert writes a single event; used as fallback when a batch fails.
func (r *GroupTestEventRepository) Insert(ctx context.Context, e model.GroupTestEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_test_events (session_id, event, phase, remaining_seconds, answered_count, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.SessionID, e.Event, string(e.Phase), e.RemainingSeconds, e.AnsweredCount, e.Detail, e.OccurredAt,
	)
	return err
}
