// internal/sessionstore/store.go

// Package sessionstore persists authentication artifact sets keyed by
// identity principal. One whole set per identity: saving replaces the
// previous set atomically, loading returns an explicit absent signal,
// and a corrupt record degrades to absent instead of failing the run.
package sessionstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

// Backend names accepted by config `session.store`.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Store is the session artifact persistence contract. Load reports
// presence explicitly; (nil, false, nil) means no set was ever saved
// for the principal.
type Store interface {
	Save(ctx context.Context, principal string, state *schemas.StorageState) error
	Load(ctx context.Context, principal string) (*schemas.StorageState, bool, error)
	Close() error
}

// New builds the configured backend. The file store is the default.
func New(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Store {
	case "", BackendFile:
		return NewFile(cfg.Dir, logger)
	case BackendPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("session store %q selected but no postgres url configured", cfg.Store)
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connecting session store database: %w", err)
		}
		return NewPostgres(ctx, pool, logger)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Store)
	}
}

// principalKey derives a stable, filesystem- and SQL-safe key from a
// principal. A readable slug keeps artifact files identifiable; the
// hash suffix keeps distinct principals from colliding after
// sanitization.
func principalKey(principal string) string {
	slug := strings.ToLower(strings.TrimSpace(principal))
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	sum := sha256.Sum256([]byte(principal))
	return b.String() + "-" + hex.EncodeToString(sum[:4])
}
