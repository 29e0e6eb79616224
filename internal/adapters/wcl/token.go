package wcl

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

const (
	// refreshMargin renews a cached token this long before it expires.
	refreshMargin = 30 * time.Second
	// defaultTokenTTL applies when the token endpoint omits expires_in.
	defaultTokenTTL = 900 * time.Second
)

// tokenCache lazily builds the shared token source and rebuilds it after the
// API rejects a token.
type tokenCache struct {
	mu  sync.Mutex
	src oauth2.TokenSource
}

func (tc *tokenCache) get(build func() oauth2.TokenSource) oauth2.TokenSource {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.src == nil {
		tc.src = build()
	}
	return tc.src
}

func (tc *tokenCache) reset() {
	tc.mu.Lock()
	tc.src = nil
	tc.mu.Unlock()
}

// ttlSource stamps a default expiry on tokens that arrive without one.
type ttlSource struct {
	src oauth2.TokenSource
	now func() time.Time
}

func (s ttlSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	metrics.RecordTokenRefresh()
	if tok.Expiry.IsZero() {
		tok.Expiry = s.now().Add(defaultTokenTTL)
	}
	return tok, nil
}

func (c *Client) buildTokenSource() oauth2.TokenSource {
	cfg := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	hc := &http.Client{Transport: c.httpClient.Transport, Timeout: c.timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
	return oauth2.ReuseTokenSourceWithExpiry(nil, ttlSource{src: cfg.TokenSource(ctx), now: time.Now}, refreshMargin)
}

// Token returns a bearer token, exchanging the client credentials when no
// cached token has more than 30 seconds left.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", &AuthError{Err: errMissingCredentials}
	}
	src := c.tokens.get(c.buildTokenSource)

	var tok *oauth2.Token
	attempts, err := c.retry(ctx, "token", func() error {
		t, err := src.Token()
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(&AuthError{Status: re.Response.StatusCode, Err: err})
			}
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAuth) || ctx.Err() != nil {
			return "", err
		}
		return "", &TransientError{Op: "token", Attempts: attempts, Err: err}
	}
	return tok.AccessToken, nil
}
