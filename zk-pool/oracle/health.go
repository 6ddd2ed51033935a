package oracle

import (
	"context"

	"github.com/kysee/zkpool/zk-pool/types"
)

type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Aging    HealthStatus = "aging"
	Expiring HealthStatus = "expiring"
	Expired  HealthStatus = "expired"
)

// NoteHealth estimates how long a note's root stays in the ring: the root
// inserted at LeafIndex is overwritten once RingCapacity more deposits land.
type NoteHealth struct {
	DepositsRemaining int64
	Percent           float64
	Status            HealthStatus
}

func Health(leafIndex, currentLeafCount, ringCapacity uint64) NoteHealth {
	remaining := int64(leafIndex+ringCapacity) - int64(currentLeafCount)
	h := NoteHealth{DepositsRemaining: remaining}
	if ringCapacity > 0 {
		h.Percent = float64(remaining) / float64(ringCapacity) * 100
	}
	switch {
	case remaining <= 0:
		h.Status = Expired
	case h.Percent >= 50:
		h.Status = Healthy
	case h.Percent >= 20:
		h.Status = Aging
	default:
		h.Status = Expiring
	}
	return h
}

// NoteHealth reads the current leaf count from the state account.
func (o *Oracle) NoteHealth(ctx context.Context, note *types.Note) (NoteHealth, error) {
	state, err := o.State(ctx)
	if err != nil {
		return NoteHealth{}, err
	}
	return Health(note.LeafIndex, state.NextIndex, o.pool.RingCapacity), nil
}
