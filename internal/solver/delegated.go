// internal/solver/delegated.go
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

// ErrPending means the service has the ticket but no verdict yet.
var ErrPending = errors.New("solver: answer pending")

// ServiceError is a definitive verdict from the solving service. Unlike a
// transport hiccup it is not worth another poll.
type ServiceError struct {
	Reason string
}

func (e *ServiceError) Error() string {
	return "delegated service failed the challenge: " + e.Reason
}

type submitResponse struct {
	TicketID string `json:"ticket_id"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DelegatedClient implements the submit-then-poll protocol of an external
// solving service.
type DelegatedClient struct {
	endpoint       string
	apiKey         string
	httpClient     *http.Client
	pollInterval   time.Duration
	maxPolls       int
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

// NewDelegatedClient initializes the service client.
func NewDelegatedClient(cfg config.DelegatedSolverConfig, logger *zap.Logger) (*DelegatedClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("delegated solver requires an endpoint")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("delegated solver requires an API key")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 24
	}

	return &DelegatedClient{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:         cfg.APIKey,
		httpClient:     NewHTTPClient(cfg.Timeout),
		pollInterval:   interval,
		maxPolls:       maxPolls,
		logger:         logger.Named("solver.delegated"),
		backoffFactory: submitBackoffFactory,
	}, nil
}

// Submit registers the challenge and returns the service's ticket id.
// Transient transport and availability failures are retried with backoff.
func (c *DelegatedClient) Submit(ctx context.Context, ch Challenge) (string, error) {
	if ch.PageURL == "" {
		return "", fmt.Errorf("challenge page URL is required")
	}

	body, err := json.Marshal(ch)
	if err != nil {
		return "", fmt.Errorf("encoding challenge: %w", err)
	}

	var ticket string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/submit", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building submit request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("submit request failed, retrying", zap.Error(err))
			return fmt.Errorf("submitting challenge: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading submit response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return classifyServiceStatus(resp.StatusCode, respBody)
		}

		var parsed submitResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding submit response: %w", err))
		}
		if parsed.Error != "" {
			return backoff.Permanent(fmt.Errorf("service rejected challenge: %s", parsed.Error))
		}
		if parsed.TicketID == "" {
			return backoff.Permanent(fmt.Errorf("service returned no ticket id"))
		}

		ticket = parsed.TicketID
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", err
	}
	return ticket, nil
}

// Poll checks the ticket once. ErrPending means ask again later; a
// ServiceError is final.
func (c *DelegatedClient) Poll(ctx context.Context, ticketID string) (string, error) {
	statusURL := c.endpoint + "/status?ticket=" + url.QueryEscape(ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("polling status: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed statusResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}

	switch parsed.Status {
	case "ready":
		if parsed.Token == "" {
			return "", &ServiceError{Reason: "ready status carried no token"}
		}
		return parsed.Token, nil
	case "pending":
		return "", ErrPending
	case "failed":
		reason := parsed.Error
		if reason == "" {
			reason = "no reason given"
		}
		return "", &ServiceError{Reason: reason}
	default:
		return "", &ServiceError{Reason: fmt.Sprintf("unknown status %q", parsed.Status)}
	}
}

// Solve runs the full protocol: submit, then poll at a fixed interval up to
// the configured attempt budget. Exhausting the budget is a timeout, not a
// fault.
func (c *DelegatedClient) Solve(ctx context.Context, ch Challenge) (string, error) {
	ticket, err := c.Submit(ctx, ch)
	if err != nil {
		return "", err
	}
	c.logger.Info("challenge submitted to delegated service",
		zap.String("ticket_id", ticket),
		zap.String("kind", ch.Kind),
	)

	// Give the service one interval of head start before the first check.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.pollInterval):
	}

	var token string
	attempts := 0
	operation := func() error {
		attempts++
		got, err := c.Poll(ctx, ticket)
		if err != nil {
			var svcErr *ServiceError
			switch {
			case errors.Is(err, ErrPending):
				c.logger.Debug("delegated service still working",
					zap.Int("attempt", attempts), zap.Int("max_polls", c.maxPolls))
				return err
			case errors.As(err, &svcErr):
				return backoff.Permanent(err)
			default:
				c.logger.Warn("status poll failed, will retry", zap.Error(err))
				return err
			}
		}
		token = got
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.pollInterval), uint64(c.maxPolls-1))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, ErrPending) {
			return "", fmt.Errorf("%w after %d polls", ErrTimedOut, attempts)
		}
		return "", err
	}

	c.logger.Info("delegated service produced a token", zap.Int("attempts", attempts))
	return token, nil
}

// classifyServiceStatus keeps quota and availability errors retryable and
// everything else permanent, mirroring how upstream APIs signal overload.
func classifyServiceStatus(code int, body []byte) error {
	err := fmt.Errorf("service returned status %d: %s", code, strings.TrimSpace(string(body)))
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func submitBackoffFactory() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	b.MaxInterval = 5 * time.Second
	return b
}
