package wcl

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithCredentials sets the client-credentials pair and token endpoint.
func WithCredentials(clientID, clientSecret, tokenURL string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
	}
}

// WithEndpoint sets the GraphQL endpoint.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.gqlURL = url
		}
	}
}

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each single request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry count and the backoff delays.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithOnRequest registers a hook called once per outgoing GraphQL request.
func WithOnRequest(fn func()) Option {
	return func(c *Client) {
		c.onRequest = fn
	}
}

// WithJitter overrides the random source for retry jitter. fn returns a
// value in [0, 1).
func WithJitter(fn func() float64) Option {
	return func(c *Client) {
		if fn != nil {
			c.jitter = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
