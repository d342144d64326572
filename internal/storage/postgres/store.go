package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hookbook/internal/model"
)

// Store provides Postgres persistence for the task journal and escrow
// balance snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertTaskResults appends task journal rows. Replayed indexes overwrite
// their previous outcome.
func (s *Store) InsertTaskResults(ctx context.Context, results []model.TaskResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO task_results (task_index, kind, success, error, processed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (task_index)
			DO UPDATE SET
				kind = EXCLUDED.kind,
				success = EXCLUDED.success,
				error = EXCLUDED.error,
				processed_at = EXCLUDED.processed_at
		`,
			int64(r.Index),
			r.Kind,
			r.Success,
			r.Error,
			r.ProcessedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertBalances writes an escrow balance snapshot. Balances are stored as
// decimal strings to keep arbitrary precision.
func (s *Store) UpsertBalances(ctx context.Context, balances []model.BalanceSnapshot) error {
	if len(balances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(`
			INSERT INTO escrow_balances (account, token, balance, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (account, token)
			DO UPDATE SET
				balance = EXCLUDED.balance,
				updated_at = now()
		`,
			b.User.Hex(),
			b.Token.Hex(),
			b.Balance.String(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range balances {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed task index for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var idx uint64
	row := s.pool.QueryRow(ctx, `SELECT last_task_index FROM replay_state WHERE name=$1`, name)
	if err := row.Scan(&idx); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return idx, true, nil
}

// SaveState upserts the last processed task index for a name.
func (s *Store) SaveState(ctx context.Context, name string, idx uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_state (name, last_task_index, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_task_index = EXCLUDED.last_task_index, updated_at = now()
	`, name, idx)
	return err
}
