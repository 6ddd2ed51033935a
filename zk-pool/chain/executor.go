// Package chain sends every JSON-RPC call of the client through one
// rate-limited, endpoint-rotating executor.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/kysee/zkpool/zk-pool/retry"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// Endpoint is one JSON-RPC url, dialed on first use.
type Endpoint struct {
	URL string

	mu     sync.Mutex
	client *gethrpc.Client
}

func (ep *Endpoint) conn(ctx context.Context) (*gethrpc.Client, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.client == nil {
		c, err := gethrpc.DialContext(ctx, ep.URL)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
		}
		ep.client = c
	}
	return ep.client, nil
}

func (ep *Endpoint) close() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.client != nil {
		ep.client.Close()
		ep.client = nil
	}
}

// CallFunc performs one request against a single endpoint.
type CallFunc func(ctx context.Context, c *gethrpc.Client) error

type ExecutorConfig struct {
	Endpoints         []string
	RequestsPerSecond float64
	Burst             int
	MaxInFlight       int
	Cooldown          time.Duration
	MaxCooldown       time.Duration
	Policy            retry.Policy
}

func DefaultExecutorConfig(endpoints ...string) ExecutorConfig {
	return ExecutorConfig{
		Endpoints:         endpoints,
		RequestsPerSecond: 8,
		Burst:             8,
		MaxInFlight:       4,
		Cooldown:          10 * time.Second,
		MaxCooldown:       60 * time.Second,
		Policy:            retry.ExecutorPolicy(),
	}
}

type Executor struct {
	endpoints []*Endpoint
	urls      []string
	admission *Admission
	health    *healthBook
	policy    retry.Policy
	metrics   *Metrics
	logger    zerolog.Logger
}

type ExecutorOption func(*Executor)

func WithLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(cfg ExecutorConfig, opts ...ExecutorOption) (*Executor, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("executor: no rpc endpoints configured")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, errors.New("executor: requests per second must be positive")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	e := &Executor{
		admission: NewAdmission(cfg.RequestsPerSecond, cfg.Burst, cfg.MaxInFlight),
		health:    newHealthBook(cfg.Cooldown, cfg.MaxCooldown),
		policy:    cfg.Policy,
		logger:    zerolog.Nop(),
	}
	for _, u := range cfg.Endpoints {
		e.endpoints = append(e.endpoints, &Endpoint{URL: u})
		e.urls = append(e.urls, u)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e, nil
}

// Health reports the cooldown state of an endpoint, if any.
func (e *Executor) Health(url string) (EndpointHealth, bool) {
	return e.health.get(url)
}

func (e *Executor) Close() {
	for _, ep := range e.endpoints {
		ep.close()
	}
}

var errAllCooling = errors.New("every endpoint is cooling down")

// Do runs call against the first healthy endpoint in priority order.
//
// Transient errors are retried on the same endpoint. A rate-limit response
// puts the endpoint in cooldown and moves to the next one. When every
// endpoint is cooling, Do waits for the earliest to recover and makes one
// more pass before giving up with ErrAllEndpointsUnavailable.
func (e *Executor) Do(ctx context.Context, method string, call CallFunc) error {
	for pass := 0; pass < 2; pass++ {
		err := e.pass(ctx, method, call)
		if !errors.Is(err, errAllCooling) {
			return err
		}
		if pass == 1 {
			break
		}
		until, ok := e.health.earliest(e.urls)
		if !ok {
			break
		}
		wait := time.Until(until)
		e.logger.Warn().Str("method", method).Dur("wait", wait).Msg("all endpoints cooling down")
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	e.metrics.Calls.WithLabelValues(method, "unavailable").Inc()
	return fmt.Errorf("%s: %w", method, types.ErrAllEndpointsUnavailable)
}

func (e *Executor) pass(ctx context.Context, method string, call CallFunc) error {
	var lastTransient error
	for _, ep := range e.endpoints {
		if e.health.coolingDown(ep.URL) {
			continue
		}
		err := e.callEndpoint(ctx, ep, method, call)
		if err == nil {
			e.health.clear(ep.URL)
			e.metrics.Calls.WithLabelValues(method, "ok").Inc()
			e.metrics.Cooling.Set(float64(e.health.cooling()))
			return nil
		}
		switch retry.Classify(err) {
		case retry.RateLimited:
			h := e.health.disable(ep.URL)
			e.metrics.RateLimits.WithLabelValues(ep.URL).Inc()
			e.metrics.Cooling.Set(float64(e.health.cooling()))
			e.logger.Warn().Str("endpoint", ep.URL).Str("method", method).
				Int("fails", h.FailCount).Time("until", h.DisabledUntil).Msg("rate limited, rotating")
		case retry.Transient:
			lastTransient = err
			e.logger.Warn().Err(err).Str("endpoint", ep.URL).Str("method", method).Msg("endpoint failed, rotating")
		default:
			e.metrics.Calls.WithLabelValues(method, "error").Inc()
			return err
		}
	}
	if lastTransient != nil {
		e.metrics.Calls.WithLabelValues(method, "error").Inc()
		return lastTransient
	}
	return errAllCooling
}

func (e *Executor) callEndpoint(ctx context.Context, ep *Endpoint, method string, call CallFunc) error {
	c, err := ep.conn(ctx)
	if err != nil {
		return err
	}
	return e.policy.Do(ctx, func(ctx context.Context) error {
		release, err := e.admission.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		return call(ctx, c)
	}, func(err error, wait time.Duration) {
		e.metrics.Retries.Inc()
		e.logger.Debug().Err(err).Str("endpoint", ep.URL).Str("method", method).Dur("wait", wait).Msg("retrying")
	})
}
