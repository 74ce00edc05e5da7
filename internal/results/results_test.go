// internal/results/results_test.go
package results

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

type stubSink struct {
	mu        sync.Mutex
	recorded  []schemas.DeliveryResult
	recordErr error
	closed    bool
	closeErr  error
}

func (s *stubSink) Record(_ context.Context, result schemas.DeliveryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recorded = append(s.recorded, result)
	return nil
}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func TestFanoutRecordsToAllSinks(t *testing.T) {
	a, b := &stubSink{}, &stubSink{}
	fan := NewFanout(a, b)

	require.NoError(t, fan.Record(context.Background(), makeResult("alice", true)))
	assert.Len(t, a.recorded, 1)
	assert.Len(t, b.recorded, 1)
}

func TestFanoutKeepsRecordingPastFailures(t *testing.T) {
	broken := &stubSink{recordErr: errors.New("disk full")}
	healthy := &stubSink{}
	fan := NewFanout(broken, healthy)

	err := fan.Record(context.Background(), makeResult("alice", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, healthy.recorded, 1, "a failing sink must not starve the others")
}

func TestFanoutCloseJoinsErrors(t *testing.T) {
	a := &stubSink{closeErr: errors.New("flush failed")}
	b := &stubSink{}
	fan := NewFanout(a, b)

	err := fan.Close()
	require.Error(t, err)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewDefaultsToJSONL(t *testing.T) {
	cfg := config.ResultsConfig{Path: filepath.Join(t.TempDir(), "out.jsonl")}
	sink, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer sink.Close()

	_, ok := sink.(*JSONLSink)
	assert.True(t, ok, "empty sink name should select the jsonl sink")
}

func TestNewRejectsUnknownSink(t *testing.T) {
	cfg := config.ResultsConfig{Sink: "carrier-pigeon"}
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNewPostgresSinkRequiresURL(t *testing.T) {
	cfg := config.ResultsConfig{Sink: SinkPostgres}
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no postgres url")
}

func TestNewBothRequiresBothSinks(t *testing.T) {
	cfg := config.ResultsConfig{
		Sink: SinkBoth,
		Path: filepath.Join(t.TempDir(), "out.jsonl"),
	}
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err, "missing postgres url must fail the combined sink")
}

func TestSummarize(t *testing.T) {
	startedAt := time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
	finishedAt := startedAt.Add(90 * time.Second)

	results := []schemas.DeliveryResult{
		makeResult("alice", true),
		makeResult("bob", false),
		makeResult("carol", true),
	}
	login := schemas.LoginOutcome{Authenticated: true, ReusedSession: true}

	summary := Summarize("run-1", "user@example.com", login, results, startedAt, finishedAt)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "user@example.com", summary.Principal)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.Reused)
	assert.Equal(t, 90*time.Second, summary.Duration)
}

func TestSummarizeEmptyRun(t *testing.T) {
	now := time.Now()
	summary := Summarize("run-2", "user@example.com", schemas.LoginOutcome{}, nil, now, now)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.False(t, summary.Reused)
}
