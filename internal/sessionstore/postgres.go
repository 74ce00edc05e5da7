// internal/sessionstore/postgres.go
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlEnsureSchema = `
        CREATE TABLE IF NOT EXISTS session_artifacts (
            principal  TEXT PRIMARY KEY,
            state      JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`

	sqlUpsertArtifacts = `
        INSERT INTO session_artifacts (principal, state, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (principal) DO UPDATE SET
            state = EXCLUDED.state,
            updated_at = EXCLUDED.updated_at;`

	sqlSelectArtifacts = `
        SELECT state FROM session_artifacts WHERE principal = $1;`
)

// PostgresStore keeps artifact sets in a single keyed table. The upsert
// is one statement, which gives the same replace-whole-set atomicity
// the file backend gets from rename.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres verifies the connection and ensures the schema exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging session store database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlEnsureSchema); err != nil {
		return nil, fmt.Errorf("ensuring session store schema: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("sessionstore"),
	}, nil
}

func (p *PostgresStore) Save(ctx context.Context, principal string, state *schemas.StorageState) error {
	if state == nil {
		return fmt.Errorf("refusing to save nil artifact set")
	}
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding artifact set: %w", err)
	}

	if _, err := p.pool.Exec(ctx, sqlUpsertArtifacts, principalKey(principal), data, time.Now().UTC()); err != nil {
		return fmt.Errorf("saving artifact set: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, principal string) (*schemas.StorageState, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, sqlSelectArtifacts, principalKey(principal)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading artifact set: %w", err)
	}

	state, ok := decodeState(raw)
	if !ok {
		p.log.Warn("artifact row unreadable, treating as absent",
			zap.String("principal_key", principalKey(principal)))
		return nil, false, nil
	}
	return state, true, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
