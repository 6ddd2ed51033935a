// Package retry is the single retry policy shared by the rpc executor, the
// confirmation tracker and the deposit event parser.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/kysee/zkpool/zk-pool/types"
)

type Class int

const (
	Fatal Class = iota
	Transient
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// Classify sorts an error into a retry class.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	if IsRateLimit(err) {
		return RateLimited
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusRequestTimeout {
			return Transient
		}
		return Fatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "eof", "timeout", "temporarily unavailable", "bad gateway", "service unavailable"} {
		if strings.Contains(msg, s) {
			return Transient
		}
	}
	return Fatal
}

// IsRateLimit recognises 429 responses and rate-limit JSON-RPC errors. A
// JSON-RPC error is judged by its code alone, since program errors carry
// arbitrary hex codes in their message.
func IsRateLimit(err error) bool {
	if errors.Is(err, types.ErrRateLimited) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32005, -32429:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return rateLimitText.MatchString(msg)
}

var rateLimitText = regexp.MustCompile(`(^|[^0-9a-z])429([^0-9a-z]|$)|too many requests|rate limit`)

type Policy struct {
	MaxAttempts      int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	Multiplier       float64
	Jitter           float64
	RetryRateLimited bool
	Classify         func(error) Class
}

// ExecutorPolicy retries transient failures on one endpoint. Rate limits are
// not retried here; the executor rotates instead.
func ExecutorPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.3,
	}
}

// EventPolicy is tuned for fetching deposit events on congested endpoints.
// A lost event makes the note's path unrecoverable without the recovery
// service, so it retries longer and through rate limits.
func EventPolicy() Policy {
	return Policy{
		MaxAttempts:      8,
		InitialInterval:  2 * time.Second,
		MaxInterval:      30 * time.Second,
		Multiplier:       2,
		Jitter:           0.3,
		RetryRateLimited: true,
	}
}

// ServicePolicy is used for the recovery, relay and proving HTTP services.
func ServicePolicy() Policy {
	return Policy{
		MaxAttempts:      4,
		InitialInterval:  time.Second,
		MaxInterval:      10 * time.Second,
		Multiplier:       2,
		Jitter:           0.3,
		RetryRateLimited: true,
	}
}

func (p Policy) classify(err error) Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return Classify(err)
}

func (p Policy) retryable(err error) bool {
	switch p.classify(err) {
	case Transient:
		return true
	case RateLimited:
		return p.RetryRateLimited
	}
	return false
}

// NewBackOff returns the schedule for this policy, bounded by MaxAttempts
// and cancelled with ctx.
func (p Policy) NewBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error or the attempt
// budget is spent. onRetry, if set, sees every retried error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(err error, wait time.Duration)) error {
	var last error
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !p.retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, p.NewBackOff(ctx), onRetry)
	if err != nil && last != nil && errors.Is(err, ctx.Err()) {
		return last
	}
	return err
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
