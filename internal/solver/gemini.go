// internal/solver/gemini.go
package solver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

// ProviderGemini is the only in-tree transcription backend.
const ProviderGemini = "gemini"

const transcriptionPrompt = "Transcribe the spoken words or digits in this audio clip. " +
	"Reply with only the transcript, no punctuation or commentary."

// maxAnswerLen rejects responses that are clearly not a challenge answer.
// Spoken challenge clips are a handful of words or digits.
const maxAnswerLen = 64

// GeminiTranscriber solves audio challenge payloads with a Gemini model.
type GeminiTranscriber struct {
	client         *genai.Client
	model          string
	timeout        time.Duration
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

// NewTranscriber creates the configured transcription backend.
func NewTranscriber(ctx context.Context, cfg config.AudioSolverConfig, logger *zap.Logger) (Transcriber, error) {
	switch cfg.Provider {
	case "", ProviderGemini:
		return NewGeminiTranscriber(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q, supported: [%s]", cfg.Provider, ProviderGemini)
	}
}

// NewGeminiTranscriber initializes the Gemini backend.
func NewGeminiTranscriber(ctx context.Context, cfg config.AudioSolverConfig, logger *zap.Logger) (*GeminiTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini transcriber requires an API key")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &GeminiTranscriber{
		client:         client,
		model:          model,
		timeout:        timeout,
		logger:         logger.Named("solver.gemini"),
		backoffFactory: defaultBackoffFactory,
	}, nil
}

// Transcribe sends the clip to the model and returns the cleaned transcript.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, payload Payload) (string, error) {
	if len(payload.Data) == 0 {
		return "", fmt.Errorf("empty challenge payload")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcriptionPrompt),
			genai.NewPartFromBytes(payload.Data, payload.MIMEType),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}

	var raw string
	operation := func() error {
		start := time.Now()
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
		if err != nil {
			classified := classifyGenAIError(err)
			var permanent *backoff.PermanentError
			if !errors.As(classified, &permanent) {
				g.logger.Warn("transcription request failed, retrying", zap.Error(err))
			}
			return classified
		}

		raw = resp.Text()
		g.logger.Debug("transcription complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("transcript_len", len(raw)),
		)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(g.backoffFactory(), ctx)); err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}

	answer := normalizeAnswer(raw)
	if answer == "" {
		return "", ErrNoAnswer
	}
	return answer, nil
}

// classifyGenAIError separates quota/availability failures, which are worth
// retrying, from everything else.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	// Transport-level failures stay retryable.
	return err
}

// normalizeAnswer strips the chat framing models wrap transcripts in. An
// implausibly long response means the model talked instead of transcribing.
func normalizeAnswer(raw string) string {
	answer := strings.TrimSpace(raw)
	answer = strings.TrimSuffix(answer, ".")
	answer = strings.Trim(answer, `"'`)
	answer = strings.Join(strings.Fields(answer), " ")
	if len(answer) > maxAnswerLen {
		return ""
	}
	return answer
}

func defaultBackoffFactory() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return b
}
