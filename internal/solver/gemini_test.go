// internal/solver/gemini_test.go
package solver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

type fakeModelResponse struct {
	status int
	body   string
}

// geminiFake records requests and serves queued responses; the last
// response repeats once the queue drains.
type geminiFake struct {
	mu        sync.Mutex
	requests  int
	lastPath  string
	lastKey   string
	lastBody  []byte
	responses []fakeModelResponse
}

func (g *geminiFake) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests++
	g.lastPath = r.URL.Path
	g.lastKey = r.Header.Get("x-goog-api-key")
	g.lastBody, _ = io.ReadAll(r.Body)

	resp := g.responses[len(g.responses)-1]
	if g.requests <= len(g.responses) {
		resp = g.responses[g.requests-1]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (g *geminiFake) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests
}

func candidateJSON(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP"}]}`, text)
}

func apiErrorJSON(code int, status, message string) string {
	return fmt.Sprintf(`{"error":{"code":%d,"message":%q,"status":%q}}`, code, message, status)
}

func setupGemini(t *testing.T, responses ...fakeModelResponse) (*GeminiTranscriber, *geminiFake) {
	t.Helper()
	fake := &geminiFake{responses: responses}
	server := httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(server.Close)

	cfg := config.AudioSolverConfig{
		Enabled:  true,
		Provider: ProviderGemini,
		APIKey:   "test-key",
		Model:    "test-model",
		Endpoint: server.URL,
		Timeout:  5 * time.Second,
	}
	tr, err := NewGeminiTranscriber(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	// Keep retry tests fast.
	tr.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 4)
	}
	return tr, fake
}

func audioPayload() Payload {
	return Payload{
		Data:      []byte{0xff, 0xfb, 0x90, 0x44, 0x00},
		MIMEType:  "audio/mpeg",
		SourceURL: "https://challenge.example/audio.mp3",
	}
}

func TestNewTranscriberSelectsProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.AudioSolverConfig{APIKey: "k", Provider: ""}

	tr, err := NewTranscriber(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &GeminiTranscriber{}, tr)

	cfg.Provider = "whisper-local"
	_, err = NewTranscriber(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transcription provider")
}

func TestNewGeminiTranscriberRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiTranscriber(context.Background(), config.AudioSolverConfig{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNewGeminiTranscriberDefaults(t *testing.T) {
	tr, err := NewGeminiTranscriber(context.Background(), config.AudioSolverConfig{APIKey: "k"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", tr.model)
	assert.Equal(t, 45*time.Second, tr.timeout)
	assert.NotNil(t, tr.backoffFactory)
}

func TestGeminiTranscribeSuccess(t *testing.T) {
	tr, fake := setupGemini(t, fakeModelResponse{status: http.StatusOK, body: candidateJSON("seven three one")})

	answer, err := tr.Transcribe(context.Background(), audioPayload())
	require.NoError(t, err)
	assert.Equal(t, "seven three one", answer)

	assert.Equal(t, 1, fake.requestCount())
	assert.Contains(t, fake.lastPath, "test-model")
	assert.Equal(t, "test-key", fake.lastKey)
	assert.Contains(t, string(fake.lastBody), "audio/mpeg", "request must carry the clip's media type")
}

func TestGeminiTranscribeRetriesOverload(t *testing.T) {
	tr, fake := setupGemini(t,
		fakeModelResponse{status: http.StatusServiceUnavailable, body: apiErrorJSON(503, "UNAVAILABLE", "overloaded")},
		fakeModelResponse{status: http.StatusOK, body: candidateJSON("42")},
	)

	answer, err := tr.Transcribe(context.Background(), audioPayload())
	require.NoError(t, err)
	assert.Equal(t, "42", answer)
	assert.Equal(t, 2, fake.requestCount())
}

func TestGeminiTranscribeBadRequestNotRetried(t *testing.T) {
	tr, fake := setupGemini(t,
		fakeModelResponse{status: http.StatusBadRequest, body: apiErrorJSON(400, "INVALID_ARGUMENT", "unsupported media")},
	)

	_, err := tr.Transcribe(context.Background(), audioPayload())
	require.Error(t, err)
	assert.Equal(t, 1, fake.requestCount(), "4xx responses are permanent")
}

func TestGeminiTranscribeEmptyTranscriptIsNoAnswer(t *testing.T) {
	tr, _ := setupGemini(t, fakeModelResponse{status: http.StatusOK, body: candidateJSON("")})

	_, err := tr.Transcribe(context.Background(), audioPayload())
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestGeminiTranscribeRefusalIsNoAnswer(t *testing.T) {
	refusal := "I am sorry, but I cannot reliably make out any spoken words or digits in this audio clip."
	tr, _ := setupGemini(t, fakeModelResponse{status: http.StatusOK, body: candidateJSON(refusal)})

	_, err := tr.Transcribe(context.Background(), audioPayload())
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestGeminiTranscribeRejectsEmptyPayload(t *testing.T) {
	tr, fake := setupGemini(t, fakeModelResponse{status: http.StatusOK, body: candidateJSON("x")})

	_, err := tr.Transcribe(context.Background(), Payload{MIMEType: "audio/mpeg"})
	require.Error(t, err)
	assert.Zero(t, fake.requestCount())
}

func TestNormalizeAnswer(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"Plain", "seven three", "seven three"},
		{"Whitespace", "  seven three  \n", "seven three"},
		{"Quoted", `"731 4624".`, "731 4624"},
		{"SingleQuoted", "'apple banana'", "apple banana"},
		{"CollapsedLines", "multi\nline  words", "multi line words"},
		{"Empty", "", ""},
		{"TooLong", strings.Repeat("chatter ", 12), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeAnswer(tc.raw))
		})
	}
}
