package wcl

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// jitterFraction is the largest share of a delay added as jitter.
const jitterFraction = 0.3

// doublingBackOff doubles from base on every attempt, caps at max and then
// adds up to 30% jitter on top.
type doublingBackOff struct {
	base    time.Duration
	max     time.Duration
	jitter  func() float64
	attempt int
}

func (b *doublingBackOff) NextBackOff() time.Duration {
	d := b.base << b.attempt
	if d <= 0 || d > b.max {
		d = b.max
	}
	b.attempt++
	return d + time.Duration(b.jitter()*jitterFraction*float64(d))
}

func (b *doublingBackOff) Reset() { b.attempt = 0 }

func (c *Client) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := &doublingBackOff{base: c.baseDelay, max: c.maxDelay, jitter: c.jitter}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// retry runs op until it succeeds, returns a permanent error or the retry
// budget is spent. It returns the number of attempts made.
func (c *Client) retry(ctx context.Context, op string, fn func() error) (int, error) {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return fn()
	}, c.newBackOff(ctx), func(err error, next time.Duration) {
		metrics.RecordAPIRetry()
		c.logger.Warn(ctx, "retrying request",
			logger.String("op", op),
			logger.Int("attempt", attempts),
			logger.Duration("delay", next),
			logger.Error(err),
		)
	})
	return attempts, err
}
