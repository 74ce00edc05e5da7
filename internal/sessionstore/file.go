// internal/sessionstore/file.go
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps one JSON artifact file per principal under a single
// directory. Writes go to a temp file in the same directory and are
// renamed into place, so a crash mid-save leaves the previous set
// intact rather than a torn file.
type FileStore struct {
	dir string
	log *zap.Logger
}

func NewFile(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session store directory not configured")
	}
	// Artifacts grant account access; keep the directory private.
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session store directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		log: logger.Named("sessionstore"),
	}, nil
}

func (f *FileStore) path(principal string) string {
	return filepath.Join(f.dir, principalKey(principal)+".json")
}

func (f *FileStore) Save(ctx context.Context, principal string, state *schemas.StorageState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("refusing to save nil artifact set")
	}

	data, err := codec.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact set: %w", err)
	}

	path := f.path(principal)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing artifact set: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting artifact file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flushing artifact set: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing artifact set: %w", err)
	}

	f.log.Debug("artifact set saved",
		zap.String("principal_key", principalKey(principal)),
		zap.Int("cookies", len(state.Cookies)),
	)
	return nil
}

func (f *FileStore) Load(ctx context.Context, principal string) (*schemas.StorageState, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(f.path(principal))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading artifact set: %w", err)
	}

	state, ok := decodeState(data)
	if !ok {
		// Corrupt artifacts are worth a warning but never worth
		// failing the run; the caller just logs in from scratch.
		f.log.Warn("artifact set unreadable, treating as absent",
			zap.String("principal_key", principalKey(principal)))
		return nil, false, nil
	}
	return state, true, nil
}

func (f *FileStore) Close() error {
	return nil
}

// decodeState parses a stored artifact payload, reporting false for
// anything that does not decode to a usable set.
func decodeState(data []byte) (*schemas.StorageState, bool) {
	var state schemas.StorageState
	if err := codec.Unmarshal(data, &state); err != nil {
		return nil, false
	}
	return &state, true
}
