// Package wcl talks to the Warcraft Logs v2 API: client-credentials auth,
// rate limited GraphQL queries with retry, and the report lookups the
// collector needs.
package wcl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// Default client configuration constants.
const (
	DefaultTokenURL   = "https://www.warcraftlogs.com/oauth/token"
	DefaultGraphQLURL = "https://www.warcraftlogs.com/api/v2/client"

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultRate       = 5
	defaultBurst      = 5

	maxResponseBytes = 8 << 20
	maxErrorBody     = 512
)

// Client is safe for concurrent use. The token cache is shared by every
// caller of the same Client.
type Client struct {
	httpClient *http.Client
	tokenURL   string
	gqlURL     string

	clientID     string
	clientSecret string
	tokens       tokenCache

	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     func() float64
	limiter    *rate.Limiter

	onRequest func()
	logger    logger.Logger
}

// New creates a Client. Without credentials every call fails with AuthError.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		tokenURL:   DefaultTokenURL,
		gqlURL:     DefaultGraphQLURL,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		jitter:     rand.Float64,
		limiter:    rate.NewLimiter(defaultRate, defaultBurst),
		logger:     logger.Get().Named("wcl"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasCredentials reports whether a client id and secret were configured.
func (c *Client) HasCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// Query runs one GraphQL request and decodes its data member into out.
// op names the request in logs and metrics.
func (c *Client) Query(ctx context.Context, op, query string, vars map[string]any, out any) error {
	start := time.Now()
	err := c.query(ctx, op, query, vars, out)
	metrics.RecordAPIRequest(op, outcome(err), float64(time.Since(start).Milliseconds()))
	return err
}

func (c *Client) query(ctx context.Context, op, query string, vars map[string]any, out any) error {
	if vars == nil {
		vars = map[string]any{}
	}
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	var payload []byte
	attempts, err := c.retry(ctx, op, func() error {
		token, err := c.Token(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		payload, err = c.post(ctx, token, body)
		return err
	})
	if err != nil {
		var se *StatusError
		switch {
		case ctx.Err() != nil, errors.Is(err, ErrAuth), errors.Is(err, ErrTransient):
			return err
		case errors.As(err, &se) && se.Code < http.StatusInternalServerError:
			return err
		default:
			return &TransientError{Op: op, Attempts: attempts, Err: err}
		}
	}

	var resp gqlResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return &MalformedResponseError{Op: op, Detail: "invalid json", Err: err}
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return &MalformedResponseError{Op: op, Detail: "graphql errors: " + strings.Join(msgs, "; ")}
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return &MalformedResponseError{Op: op, Detail: "missing data"}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return &MalformedResponseError{Op: op, Detail: "unexpected data shape", Err: err}
	}
	return nil
}

// post sends one attempt. 401 and 403 drop the cached token and fail with
// AuthError, other 4xx fail permanently, 5xx and transport errors are retried.
func (c *Client) post(ctx context.Context, token string, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.gqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	if c.onRequest != nil {
		c.onRequest()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.reset()
		return nil, backoff.Permanent(&AuthError{Status: resp.StatusCode, Err: errors.New(snippet(data))})
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: snippet(data)})
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
