// internal/solver/delegated_test.go
package solver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

// fakeService is a minimal delegated solving service for tests.
type fakeService struct {
	t *testing.T

	mu                 sync.Mutex
	submits            int
	polls              int
	lastAPIKey         string
	lastChallenge      Challenge
	submitFailures     int    // serve this many 503s before accepting
	submitRejectCode   int    // if set, always answer submit with this status
	pendingBeforeReady int    // polls answered "pending" before "ready"
	token              string // token for "ready"
	failReason         string // if set, answer "failed"
	rawStatus          string // if set, answer this literal status value
}

func (s *fakeService) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastAPIKey = r.Header.Get("X-Api-Key")

		switch r.URL.Path {
		case "/submit":
			s.submits++
			if s.submitRejectCode != 0 {
				w.WriteHeader(s.submitRejectCode)
				return
			}
			if s.submitFailures > 0 {
				s.submitFailures--
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&s.lastChallenge); err != nil {
				s.t.Errorf("bad submit body: %v", err)
			}
			writeJSON(w, submitResponse{TicketID: "ticket-1"})
		case "/status":
			s.polls++
			if r.URL.Query().Get("ticket") != "ticket-1" {
				s.t.Errorf("unexpected ticket %q", r.URL.Query().Get("ticket"))
			}
			switch {
			case s.polls <= s.pendingBeforeReady:
				writeJSON(w, statusResponse{Status: "pending"})
			case s.rawStatus != "":
				writeJSON(w, statusResponse{Status: s.rawStatus})
			case s.failReason != "":
				writeJSON(w, statusResponse{Status: "failed", Error: s.failReason})
			default:
				writeJSON(w, statusResponse{Status: "ready", Token: s.token})
			}
		default:
			http.NotFound(w, r)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeService) counts() (submits, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits, s.polls
}

func newTestDelegated(t *testing.T, svc *fakeService, maxPolls int) *DelegatedClient {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	client, err := NewDelegatedClient(config.DelegatedSolverConfig{
		Enabled:      true,
		Endpoint:     server.URL,
		APIKey:       "test-key",
		PollInterval: 2 * time.Millisecond,
		MaxPolls:     maxPolls,
		Timeout:      5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	// Keep transient-failure tests fast.
	client.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	}
	return client
}

func testChallenge() Challenge {
	return Challenge{Kind: "recaptcha", SiteKey: "site-key-1", PageURL: "https://example.com/login"}
}

func TestNewDelegatedClientValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewDelegatedClient(config.DelegatedSolverConfig{APIKey: "k"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")

	_, err = NewDelegatedClient(config.DelegatedSolverConfig{Endpoint: "http://solver.local"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestDelegatedSolveHappyPath(t *testing.T) {
	svc := &fakeService{t: t, pendingBeforeReady: 2, token: "tok-abc"}
	client := newTestDelegated(t, svc, 10)

	token, err := client.Solve(context.Background(), testChallenge())
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)

	submits, polls := svc.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 3, polls)
	assert.Equal(t, "test-key", svc.lastAPIKey)
	assert.Equal(t, testChallenge(), svc.lastChallenge)
}

func TestDelegatedSolveTimesOutAfterPollBudget(t *testing.T) {
	svc := &fakeService{t: t, pendingBeforeReady: 1000}
	client := newTestDelegated(t, svc, 4)

	_, err := client.Solve(context.Background(), testChallenge())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)

	_, polls := svc.counts()
	assert.Equal(t, 4, polls)
}

func TestDelegatedSolveServiceFailureIsFinal(t *testing.T) {
	svc := &fakeService{t: t, failReason: "unsolvable audio"}
	client := newTestDelegated(t, svc, 10)

	_, err := client.Solve(context.Background(), testChallenge())
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Contains(t, svcErr.Reason, "unsolvable audio")

	_, polls := svc.counts()
	assert.Equal(t, 1, polls, "a definitive verdict must stop the poll loop")
}

func TestDelegatedSolveUnknownStatusIsFinal(t *testing.T) {
	svc := &fakeService{t: t, rawStatus: "wat"}
	client := newTestDelegated(t, svc, 10)

	_, err := client.Solve(context.Background(), testChallenge())
	require.Error(t, err)

	var svcErr *ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestDelegatedSubmitRetriesTransientFailures(t *testing.T) {
	svc := &fakeService{t: t, submitFailures: 2, token: "tok"}
	client := newTestDelegated(t, svc, 5)

	token, err := client.Solve(context.Background(), testChallenge())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	submits, _ := svc.counts()
	assert.Equal(t, 3, submits)
}

func TestDelegatedSubmitRejectionNotRetried(t *testing.T) {
	svc := &fakeService{t: t, submitRejectCode: http.StatusForbidden}
	client := newTestDelegated(t, svc, 5)

	_, err := client.Submit(context.Background(), testChallenge())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	submits, _ := svc.counts()
	assert.Equal(t, 1, submits, "4xx responses are permanent")
}

func TestDelegatedSubmitRequiresPageURL(t *testing.T) {
	svc := &fakeService{t: t}
	client := newTestDelegated(t, svc, 5)

	_, err := client.Submit(context.Background(), Challenge{Kind: "recaptcha"})
	require.Error(t, err)

	submits, _ := svc.counts()
	assert.Zero(t, submits)
}

func TestDelegatedSolveHonorsContext(t *testing.T) {
	svc := &fakeService{t: t, pendingBeforeReady: 1000}
	client := newTestDelegated(t, svc, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := client.Solve(ctx, testChallenge())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPending),
		"expected a context-bounded exit, got: %v", err)
}
