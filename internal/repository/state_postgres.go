package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// PostgresStateRepository stores states in the group_test_states table.
type PostgresStateRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresStateRepository creates a new PostgresStateRepository.
func NewPostgresStateRepository(pool *pgxpool.Pool) *PostgresStateRepository {
	return &PostgresStateRepository{pool: pool}
}

// Save upserts the state row for a session.
func (r *PostgresStateRepository) Save(ctx context.Context, sessionID uuid.UUID, state *model.PersistedState) error {
	answers, err := json.Marshal(state.Answers.Clone())
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO group_test_states (session_id, end_timestamp, answers, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT (session_id) DO UPDATE
		 SET end_timestamp = EXCLUDED.end_timestamp, answers = EXCLUDED.answers, updated_at = NOW()`,
		sessionID, state.EndTimestamp, string(answers),
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Load retrieves the state row for a session.
func (r *PostgresStateRepository) Load(ctx context.Context, sessionID uuid.UUID) (*model.PersistedState, error) {
	var (
		state   model.PersistedState
		answers []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT end_timestamp, answers FROM group_test_states WHERE session_id = $1`, sessionID,
	).Scan(&state.EndTimestamp, &answers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}

	state.Answers = model.AnswerMap{}
	if err := json.Unmarshal(answers, &state.Answers); err != nil {
		return nil, fmt.Errorf("invalid answers column: %w", err)
	}
	state.EndTimestamp = state.EndTimestamp.UTC()
	return &state, nil
}

// Clear deletes the state row for a session.
func (r *PostgresStateRepository) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM group_test_states WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
