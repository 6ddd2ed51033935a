// Package confirm waits for submitted transactions to reach finality.
package confirm

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/retry"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusFinalized Status = "finalized"
	StatusPending   Status = "pending"
)

type Result struct {
	Signature string
	Status    Status
	Slot      uint64
}

func (r Result) Finalized() bool {
	return r.Status == StatusFinalized
}

// StatusSource is satisfied by *chain.Client.
type StatusSource interface {
	GetSignatureStatuses(ctx context.Context, sigs ...string) ([]*chain.SignatureStatus, error)
}

type Config struct {
	// Commitment is the level a transaction must reach to count as final.
	Commitment   string
	PollInterval time.Duration
	Timeout      time.Duration
	// RateLimitBackoff multiplies PollInterval after a rate-limit response.
	RateLimitBackoff float64
	CacheTTL         time.Duration
	// WebsocketURL enables signatureSubscribe. Empty means poll only.
	WebsocketURL string
}

func DefaultConfig() Config {
	return Config{
		Commitment:       chain.CommitmentFinalized,
		PollInterval:     2 * time.Second,
		Timeout:          90 * time.Second,
		RateLimitBackoff: 3,
		CacheTTL:         10 * time.Minute,
	}
}

type Tracker struct {
	src       StatusSource
	cfg       Config
	finalized *cache.Cache
	dialer    *websocket.Dialer
	logger    zerolog.Logger
}

type Option func(*Tracker)

func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(t *Tracker) { t.dialer = d }
}

func NewTracker(src StatusSource, cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimitBackoff < 1 {
		cfg.RateLimitBackoff = def.RateLimitBackoff
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	t := &Tracker{
		src: src,
		cfg: cfg,
		// no janitor: expired ids are dropped when looked up
		finalized: cache.New(cfg.CacheTTL, 0),
		dialer:    websocket.DefaultDialer,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Known reports whether sig is in the finalized set.
func (t *Tracker) Known(sig string) bool {
	_, ok := t.finalized.Get(sig)
	return ok
}

// Confirm waits until sig is final. A timeout is not an error: the result
// is pending because the transaction may still land. An on-chain failure
// returns ErrTransactionFailed.
func (t *Tracker) Confirm(ctx context.Context, sig string) (Result, error) {
	if v, ok := t.finalized.Get(sig); ok {
		return Result{Signature: sig, Status: StatusFinalized, Slot: v.(uint64)}, nil
	}

	tctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	if t.cfg.WebsocketURL != "" {
		res, err := t.subscribe(tctx, sig)
		switch {
		case err == nil:
			return t.finalize(res), nil
		case errors.Is(err, types.ErrTransactionFailed):
			return Result{Signature: sig}, err
		case tctx.Err() != nil:
			return t.expired(ctx, sig)
		}
		t.logger.Warn().Err(err).Str("sig", sig).Msg("signature subscription failed, polling")
	}
	return t.poll(tctx, ctx, sig)
}

func (t *Tracker) poll(tctx, parent context.Context, sig string) (Result, error) {
	for {
		wait := t.cfg.PollInterval
		res, done, err := t.check(tctx, sig)
		switch {
		case err == nil && done:
			return t.finalize(res), nil
		case err == nil:
		case errors.Is(err, types.ErrTransactionFailed):
			return Result{Signature: sig}, err
		case tctx.Err() != nil:
			return t.expired(parent, sig)
		case retry.IsRateLimit(err) || errors.Is(err, types.ErrAllEndpointsUnavailable):
			wait = time.Duration(float64(wait) * t.cfg.RateLimitBackoff)
			t.logger.Warn().Str("sig", sig).Dur("wait", wait).Msg("rate limited while polling")
		case retry.Classify(err) == retry.Transient:
			t.logger.Debug().Err(err).Str("sig", sig).Msg("status poll failed")
		default:
			return Result{Signature: sig}, err
		}
		if retry.Sleep(tctx, wait) != nil {
			return t.expired(parent, sig)
		}
	}
}

// check makes one status request.
func (t *Tracker) check(ctx context.Context, sig string) (Result, bool, error) {
	sts, err := t.src.GetSignatureStatuses(ctx, sig)
	if err != nil {
		return Result{}, false, err
	}
	if len(sts) == 0 || sts[0] == nil {
		return Result{}, false, nil
	}
	st := sts[0]
	if st.Failed() {
		return Result{}, false, chain.FailureError(sig, st.Err)
	}
	if !st.Reached(t.cfg.Commitment) {
		return Result{}, false, nil
	}
	return Result{Signature: sig, Status: StatusFinalized, Slot: st.Slot}, true, nil
}

func (t *Tracker) finalize(res Result) Result {
	res.Status = StatusFinalized
	t.finalized.SetDefault(res.Signature, res.Slot)
	return res
}

// expired turns a timeout into a pending result. Cancellation by the caller
// is still reported.
func (t *Tracker) expired(parent context.Context, sig string) (Result, error) {
	if err := parent.Err(); err != nil {
		return Result{Signature: sig, Status: StatusPending}, err
	}
	t.logger.Info().Str("sig", sig).Dur("timeout", t.cfg.Timeout).Msg("not final yet, leaving pending")
	return Result{Signature: sig, Status: StatusPending}, nil
}
