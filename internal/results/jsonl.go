// internal/results/jsonl.go
package results

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// maxLineBytes bounds a single result line when reading files back.
const maxLineBytes = 1 << 20

// JSONLSink appends one JSON object per line to a results file. Lines are
// written whole, so a reader tailing the file never sees a torn record.
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	log    *zap.Logger
	closed bool
}

// NewJSONL opens (or creates) the results file for appending.
func NewJSONL(path string, logger *zap.Logger) (*JSONLSink, error) {
	if path == "" {
		return nil, fmt.Errorf("results file path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding results path: %w", err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating results directory: %w", err)
		}
	}

	f, err := os.OpenFile(expanded, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results file: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSink{file: f, log: logger.Named("results.jsonl")}, nil
}

// Path returns the file the sink writes to.
func (s *JSONLSink) Path() string {
	return s.file.Name()
}

func (s *JSONLSink) Record(ctx context.Context, result schemas.DeliveryResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", result.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("results sink is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("writing result %s: %w", result.ID, err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing results file: %w", err)
	}
	return nil
}

// ReadFile loads every result in a JSONL file. Unparseable lines are
// counted and skipped rather than failing the read; a results file from an
// interrupted run may end mid-line.
func ReadFile(path string) ([]schemas.DeliveryResult, int, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, 0, fmt.Errorf("expanding results path: %w", err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, 0, fmt.Errorf("opening results file: %w", err)
	}
	defer f.Close()

	var (
		out     []schemas.DeliveryResult
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r schemas.DeliveryResult
		if err := json.Unmarshal(line, &r); err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return out, skipped, fmt.Errorf("reading results file: %w", err)
	}
	return out, skipped, nil
}

// Follow tails a results file, invoking fn for each decoded result until the
// context ends. With fromStart false, only results appended after the call
// are seen.
func Follow(ctx context.Context, path string, fromStart bool, logger *zap.Logger, fn func(schemas.DeliveryResult)) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expanding results path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	}
	if !fromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(expanded, cfg)
	if err != nil {
		return fmt.Errorf("tailing results file: %w", err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				logger.Warn("error reading results file", zap.Error(line.Err))
				continue
			}
			text := bytes.TrimSpace([]byte(line.Text))
			if len(text) == 0 {
				continue
			}
			var r schemas.DeliveryResult
			if err := json.Unmarshal(text, &r); err != nil {
				logger.Debug("skipping unparseable result line", zap.Error(err))
				continue
			}
			fn(r)
		}
	}
}
