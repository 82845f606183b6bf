package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"golang.org/x/time/rate"
)

// Verifier judges whether a candidate pair may be confirmed.
type Verifier interface {
	Verify(ctx context.Context, a, b match.PendingRequest, key match.MatchKey) (Outcome, error)
}

type verifyRequest struct {
	MatchRequests []string `json:"matchRequests"`
	Topic         string   `json:"topic"`
	Language      string   `json:"language"`
	Difficulty    string   `json:"difficulty"`
}

type verifyResponse struct {
	Status         Status   `json:"status"`
	Message        string   `json:"message,omitempty"`
	ValidMatches   []string `json:"validMatches"`
	InvalidMatches []string `json:"invalidMatches"`
}

// HTTPClient calls POST {baseURL}/verify. It keeps no state between calls and
// never retries.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*HTTPClient)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

// WithRateLimit throttles outgoing calls to perSecond with the given burst.
// A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *HTTPClient) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		endpoint:   strings.TrimRight(baseURL, "/") + "/verify",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Verify(ctx context.Context, a, b match.PendingRequest, key match.MatchKey) (Outcome, error) {
	var outcome Outcome
	if a.SameUser(b) {
		return outcome, ErrSameUser
	}
	rawA, err := a.Raw()
	if err != nil {
		return outcome, err
	}
	rawB, err := b.Raw()
	if err != nil {
		return outcome, err
	}

	body, err := json.Marshal(verifyRequest{
		MatchRequests: []string{rawA, rawB},
		Topic:         key.Topic,
		Language:      key.Language,
		Difficulty:    key.Difficulty,
	})
	if err != nil {
		return outcome, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return outcome, fmt.Errorf("waiting for verification rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return outcome, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outcome, fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outcome, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome, fmt.Errorf("%w: reading body: %v", ErrMalformedResponse, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return outcome, fmt.Errorf("%w: response body is missing", ErrMalformedResponse)
	}

	var vr verifyResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return outcome, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !vr.Status.Known() {
		return outcome, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, vr.Status)
	}

	outcome.Status = vr.Status
	outcome.Message = vr.Message
	if vr.Status == StatusFailure {
		return outcome, nil
	}

	submitted := map[string]match.PendingRequest{rawA: a, rawB: b}
	seen := make(map[string]bool, 2)
	resolve := func(raws []string) ([]match.PendingRequest, error) {
		out := make([]match.PendingRequest, 0, len(raws))
		for _, raw := range raws {
			r, ok := submitted[raw]
			if !ok {
				return nil, fmt.Errorf("%w: judged a request that was not submitted", ErrMalformedResponse)
			}
			if seen[raw] {
				return nil, fmt.Errorf("%w: request judged twice", ErrMalformedResponse)
			}
			seen[raw] = true
			out = append(out, r)
		}
		return out, nil
	}
	if outcome.ValidMatches, err = resolve(vr.ValidMatches); err != nil {
		return Outcome{}, err
	}
	if outcome.InvalidMatches, err = resolve(vr.InvalidMatches); err != nil {
		return Outcome{}, err
	}
	if err := outcome.check(); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}
