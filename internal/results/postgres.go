// internal/results/postgres.go
package results

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// ResultsDB is the slice of a pgx pool the sink needs. *pgxpool.Pool
// satisfies it; tests substitute a mock.
type ResultsDB interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const sqlEnsureResults = `
CREATE TABLE IF NOT EXISTS delivery_results (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	destination TEXT NOT NULL,
	succeeded BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_code TEXT,
	error_message TEXT,
	diagnostics JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);`

// Results are immutable once produced; a replayed insert is a no-op.
const sqlInsertResult = `
INSERT INTO delivery_results
	(id, run_id, target_id, destination, succeeded, duration_ms, error_code, error_message, diagnostics, recorded_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING;`

// PostgresSink records results into a delivery_results table.
type PostgresSink struct {
	pool ResultsDB
	log  *zap.Logger
}

// NewPostgres verifies connectivity, ensures the schema, and returns the
// sink.
func NewPostgres(ctx context.Context, pool ResultsDB, logger *zap.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging results database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlEnsureResults); err != nil {
		return nil, fmt.Errorf("ensuring results schema: %w", err)
	}
	return &PostgresSink{pool: pool, log: logger.Named("results.postgres")}, nil
}

func (s *PostgresSink) Record(ctx context.Context, result schemas.DeliveryResult) error {
	diag, err := json.Marshal(result.Diagnostics)
	if err != nil {
		return fmt.Errorf("encoding diagnostics for %s: %w", result.ID, err)
	}

	var errCode, errMessage any
	if result.Error != nil {
		errCode = string(result.Error.Code)
		errMessage = result.Error.Message
	}

	recordedAt := result.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, sqlInsertResult,
		result.ID,
		result.RunID,
		result.TargetID,
		result.Destination,
		result.Succeeded,
		result.DurationMs,
		errCode,
		errMessage,
		diag,
		recordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting result %s: %w", result.ID, err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
