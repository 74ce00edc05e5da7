// internal/results/results.go

// Package results records delivery outcomes as they are produced. Sinks are
// append-only: a result is written exactly once and never updated, matching
// the engine's one-result-per-target guarantee.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

// Sink names accepted by config `results.sink`.
const (
	SinkJSONL    = "jsonl"
	SinkPostgres = "postgres"
	SinkBoth     = "both"
)

// Sink receives delivery results as the run produces them.
type Sink interface {
	Record(ctx context.Context, result schemas.DeliveryResult) error
	Close() error
}

// New builds the configured sink stack. The JSONL file sink is the default.
func New(ctx context.Context, cfg config.ResultsConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Sink {
	case "", SinkJSONL:
		return NewJSONL(cfg.Path, logger)
	case SinkPostgres:
		return newPostgresFromURL(ctx, cfg.PostgresURL, logger)
	case SinkBoth:
		jsonl, err := NewJSONL(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		pg, err := newPostgresFromURL(ctx, cfg.PostgresURL, logger)
		if err != nil {
			jsonl.Close()
			return nil, err
		}
		return NewFanout(jsonl, pg), nil
	default:
		return nil, fmt.Errorf("unknown results sink %q", cfg.Sink)
	}
}

func newPostgresFromURL(ctx context.Context, pgURL string, logger *zap.Logger) (*PostgresSink, error) {
	if pgURL == "" {
		return nil, fmt.Errorf("postgres results sink selected but no postgres url configured")
	}
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		return nil, fmt.Errorf("connecting results database: %w", err)
	}
	return NewPostgres(ctx, pool, logger)
}

// Fanout records every result to all member sinks. A sink failure does not
// stop the others; errors are joined.
type Fanout struct {
	sinks []Sink
}

// NewFanout wraps the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Record(ctx context.Context, result schemas.DeliveryResult) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Record(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summarize folds a run's result slice into its aggregate summary.
func Summarize(runID, principal string, login schemas.LoginOutcome, results []schemas.DeliveryResult, startedAt, finishedAt time.Time) schemas.RunSummary {
	summary := schemas.RunSummary{
		RunID:      runID,
		Principal:  principal,
		Total:      len(results),
		Reused:     login.ReusedSession,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
	}
	for _, r := range results {
		if r.Succeeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary
}
