package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/retry"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// copyThreshold is the batch size from which rows go through COPY into a
// staging table instead of row-by-row upserts.
const copyThreshold = 100

const schema = `
CREATE TABLE IF NOT EXISTS user_scores (
	user_id      TEXT PRIMARY KEY,
	external_id  TEXT NOT NULL DEFAULT '',
	username     TEXT NOT NULL,
	user_type    INTEGER NOT NULL DEFAULT 0,
	total_points INTEGER NOT NULL DEFAULT 0,
	triangle     INTEGER NOT NULL DEFAULT 0,
	square       INTEGER NOT NULL DEFAULT 0,
	circle       INTEGER NOT NULL DEFAULT 0,
	is_logged_in BOOLEAN NOT NULL DEFAULT FALSE,
	operation    TEXT NOT NULL,
	changed_at   TIMESTAMPTZ NOT NULL
)`

var columns = []string{
	"user_id", "external_id", "username", "user_type", "total_points",
	"triangle", "square", "circle", "is_logged_in", "operation", "changed_at",
}

// Older changes never overwrite newer ones.
const upsertSet = `
	ON CONFLICT (user_id) DO UPDATE SET
		external_id = EXCLUDED.external_id,
		username = EXCLUDED.username,
		user_type = EXCLUDED.user_type,
		total_points = EXCLUDED.total_points,
		triangle = EXCLUDED.triangle,
		square = EXCLUDED.square,
		circle = EXCLUDED.circle,
		is_logged_in = EXCLUDED.is_logged_in,
		operation = EXCLUDED.operation,
		changed_at = EXCLUDED.changed_at
	WHERE user_scores.changed_at <= EXCLUDED.changed_at`

// Writer applies batches of user rows to the reporting table.
type Writer interface {
	WriteBatch(ctx context.Context, rows []UserRow) error
	Close() error
}

type PGWriter struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPGWriter connects the pool and creates the reporting table if needed.
func NewPGWriter(ctx context.Context, cfg config.PostgresConfig, l *logger.Logger) (*PGWriter, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres uri: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create user_scores table: %w", err)
	}

	return &PGWriter{pool: pool, logger: l}, nil
}

// Ping backs the syncer readiness check.
func (w *PGWriter) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// WriteBatch compacts rows, deletes removed users and upserts the rest in
// one transaction.
func (w *PGWriter) WriteBatch(ctx context.Context, rows []UserRow) error {
	rows = Compact(rows)
	if len(rows) == 0 {
		return nil
	}
	upserts, deletes := split(rows)

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(deletes) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM user_scores WHERE user_id = ANY($1)`, deletes); err != nil {
			return fmt.Errorf("failed to delete users: %w", err)
		}
	}

	if useCopy(upserts) {
		err = w.upsertCopy(ctx, tx, upserts)
	} else {
		err = w.upsertRows(ctx, tx, upserts)
	}
	if err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit batch: %w", err))
	}
	w.logger.Debug("batch written", zap.Int("upserts", len(upserts)), zap.Int("deletes", len(deletes)))
	return nil
}

// classify marks data and integrity failures as permanent. Retrying the
// same rows cannot fix them.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return retry.Permanent(err)
		}
	}
	return err
}

func split(rows []UserRow) (upserts []UserRow, deletes []string) {
	for _, r := range rows {
		if r.Deleted {
			deletes = append(deletes, r.UserID)
			continue
		}
		upserts = append(upserts, r)
	}
	return upserts, deletes
}

func useCopy(rows []UserRow) bool {
	return len(rows) >= copyThreshold
}

func values(r UserRow) []interface{} {
	return []interface{}{
		r.UserID, r.ExternalID, r.Username, r.UserType, r.TotalPoints,
		r.Triangle, r.Square, r.Circle, r.IsLoggedIn, r.Operation, r.ChangedAt,
	}
}

func (w *PGWriter) upsertRows(ctx context.Context, tx pgx.Tx, rows []UserRow) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `INSERT INTO user_scores (user_id, external_id, username, user_type, total_points,
		triangle, square, circle, is_logged_in, operation, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)` + upsertSet

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(q, values(r)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert users: %w", err)
	}
	return nil
}

func (w *PGWriter) upsertCopy(ctx context.Context, tx pgx.Tx, rows []UserRow) error {
	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE user_scores_stage (LIKE user_scores INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"user_scores_stage"},
		columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			return values(rows[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy users: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO user_scores SELECT * FROM user_scores_stage`+upsertSet); err != nil {
		return fmt.Errorf("failed to merge staged users: %w", err)
	}
	return nil
}

func (w *PGWriter) Close() error {
	w.pool.Close()
	return nil
}
