package chain

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Admission is the pair of gates every outbound call passes: a token bucket
// bounding requests per second and a semaphore bounding calls in flight.
type Admission struct {
	limiter  *rate.Limiter
	inflight *semaphore.Weighted
}

func NewAdmission(perSecond float64, burst int, maxInFlight int) *Admission {
	if burst < 1 {
		burst = 1
	}
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Admission{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		inflight: semaphore.NewWeighted(int64(maxInFlight)),
	}
}

// Acquire blocks until both gates admit the call. The returned release must
// be called when the call finishes.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := a.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { a.inflight.Release(1) }, nil
}
