package api

import (
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

const (
	defaultRecapDuration = 15 * time.Second
	defaultOutboxSize    = 64
	defaultWriteTimeout  = 5 * time.Second
)

type options struct {
	secret       string
	recap        time.Duration
	outbox       int
	writeTimeout time.Duration
	origins      []string
	engine       *scoring.Engine
	logger       logger.Logger
}

func defaultOptions() options {
	return options{
		recap:        defaultRecapDuration,
		outbox:       defaultOutboxSize,
		writeTimeout: defaultWriteTimeout,
		origins:      []string{"*"},
		engine:       scoring.Default(),
		logger:       logger.Get().Named("api"),
	}
}

// Option configures the Server.
type Option func(*options)

// WithAdminSecret requires admin commands to carry secret.
func WithAdminSecret(secret string) Option {
	return func(o *options) { o.secret = secret }
}

// WithRecapDuration sets how long automatic recaps stay up.
func WithRecapDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.recap = d
		}
	}
}

// WithOutboxSize sets how many messages may queue per client before it is
// dropped.
func WithOutboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.outbox = n
		}
	}
}

// WithWriteTimeout bounds a single websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithOriginPatterns restricts websocket origins. The default accepts any.
func WithOriginPatterns(patterns ...string) Option {
	return func(o *options) {
		if len(patterns) > 0 {
			o.origins = patterns
		}
	}
}

// WithEngine sets the scoring tables served by the API.
func WithEngine(e *scoring.Engine) Option {
	return func(o *options) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
