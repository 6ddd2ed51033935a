package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// PoolConfig addresses and sizes one fixed-denomination pool. It is not
// modified after load.
type PoolConfig struct {
	ID              string
	ProgramID       Address
	State           Address
	Vault           Address
	VerificationKey Address
	Shards          []Address
	Denomination    *uint256.Int
	RingCapacity    uint64
	ShardCapacity   uint64
	TreeDepth       int
}

func (p *PoolConfig) Validate() error {
	if len(p.Shards) == 0 {
		return fmt.Errorf("pool %s: no shard accounts", p.ID)
	}
	if p.ShardCapacity == 0 {
		return fmt.Errorf("pool %s: shard capacity must be positive", p.ID)
	}
	if uint64(len(p.Shards))*p.ShardCapacity != p.RingCapacity {
		return fmt.Errorf("pool %s: ring capacity %d != %d shards x %d",
			p.ID, p.RingCapacity, len(p.Shards), p.ShardCapacity)
	}
	if p.TreeDepth < 1 || p.TreeDepth > 32 {
		return fmt.Errorf("pool %s: tree depth %d out of range", p.ID, p.TreeDepth)
	}
	if p.Denomination == nil || p.Denomination.IsZero() {
		return fmt.Errorf("pool %s: denomination must be positive", p.ID)
	}
	return nil
}

// FallbackShard is the shard a root inserted at leafIndex was written to.
func (p *PoolConfig) FallbackShard(leafIndex uint64) int {
	return int((leafIndex % p.RingCapacity) / p.ShardCapacity)
}

type AcceptanceSource string

const (
	SourceStateHistory AcceptanceSource = "state_history"
	SourceShardedRing  AcceptanceSource = "sharded_ring"
	SourceNotFound     AcceptanceSource = "not_found"
)

// RootAcceptance is computed on every check and never persisted.
// ShardIndex is meaningful only for SourceShardedRing.
type RootAcceptance struct {
	Found      bool
	Source     AcceptanceSource
	ShardIndex int
}

var NotAccepted = RootAcceptance{Source: SourceNotFound, ShardIndex: -1}
