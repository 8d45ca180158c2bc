package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// notifyChannel is the channel flag writers NOTIFY after changing the flags table.
const notifyChannel = "flags_changed"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flags (
	key             TEXT NOT NULL,
	env             TEXT NOT NULL,
	description     TEXT,
	enabled         BOOLEAN NOT NULL DEFAULT FALSE,
	rollout         INTEGER NOT NULL DEFAULT 0,
	expression      TEXT,
	config          JSONB NOT NULL DEFAULT '{}',
	variants        JSONB NOT NULL DEFAULT '[]',
	targeting_rules JSONB NOT NULL DEFAULT '[]',
	version         INTEGER NOT NULL DEFAULT 1,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (key, env)
)`

const selectFlagsSQL = `
SELECT key, env, description, enabled, rollout, expression, config, variants,
       targeting_rules, version, updated_at
FROM flags
WHERE env = $1
ORDER BY key`

// PostgresStore reads flags from a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, log: logger}
}

// Migrate creates the flags table when it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create flags table: %w", err)
	}
	return nil
}

// GetAllFlags retrieves all flags for the given environment from the database.
func (p *PostgresStore) GetAllFlags(ctx context.Context, env string) ([]flagmodel.Flag, error) {
	rows, err := p.pool.Query(ctx, selectFlagsSQL, env)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	var flags []flagmodel.Flag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}
	return flags, nil
}

func scanFlag(row pgx.Row) (flagmodel.Flag, error) {
	var (
		f                         flagmodel.Flag
		description               pgtype.Text
		config, variants, targets []byte
		updatedAt                 pgtype.Timestamptz
		rollout, version          int32
	)
	if err := row.Scan(&f.Key, &f.Env, &description, &f.Enabled, &rollout, &f.Expression,
		&config, &variants, &targets, &version, &updatedAt); err != nil {
		return flagmodel.Flag{}, fmt.Errorf("scan flag: %w", err)
	}
	if description.Valid {
		f.Description = description.String
	}
	f.Rollout = rollout
	f.Version = int(version)
	if updatedAt.Valid {
		f.UpdatedAt = updatedAt.Time.UTC()
	}
	if err := unmarshalColumn(config, &f.Config); err != nil {
		return flagmodel.Flag{}, fmt.Errorf("flag %q config: %w", f.Key, err)
	}
	if err := unmarshalColumn(variants, &f.Variants); err != nil {
		return flagmodel.Flag{}, fmt.Errorf("flag %q variants: %w", f.Key, err)
	}
	if err := unmarshalColumn(targets, &f.TargetingRules); err != nil {
		return flagmodel.Flag{}, fmt.Errorf("flag %q targeting rules: %w", f.Key, err)
	}
	return f, nil
}

func unmarshalColumn(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// Watch listens on the flags_changed channel and calls onChange for each
// notification. A dropped connection is re-acquired after a short pause.
func (p *PostgresStore) Watch(ctx context.Context, onChange func()) error {
	go func() {
		for ctx.Err() == nil {
			if err := p.listen(ctx, onChange); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("flag change listener failed, retrying")
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
		}
	}()
	return nil
}

func (p *PostgresStore) listen(ctx context.Context, onChange func()) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		onChange()
	}
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
