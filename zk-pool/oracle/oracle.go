// Package oracle decides whether a cached Merkle root is still inside the
// verifier's accepted set.
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/kysee/zkpool/zk-pool/accounts"
	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// AccountSource is satisfied by *chain.Client.
type AccountSource interface {
	GetAccountInfo(ctx context.Context, addr types.Address) ([]byte, error)
	GetMultipleAccounts(ctx context.Context, addrs []types.Address) ([][]byte, error)
}

type Oracle struct {
	src    AccountSource
	pool   *types.PoolConfig
	logger zerolog.Logger
}

func New(src AccountSource, pool *types.PoolConfig, logger zerolog.Logger) *Oracle {
	return &Oracle{src: src, pool: pool, logger: logger}
}

// IsAcceptedRoot checks the state account's recent history first. The shard
// ring is fetched, in one request, only when the history misses.
func (o *Oracle) IsAcceptedRoot(ctx context.Context, root *big.Int) (types.RootAcceptance, error) {
	key, err := field.ToFixedWidthBE(root)
	if err != nil {
		return types.NotAccepted, err
	}

	state, err := o.State(ctx)
	if err != nil {
		return types.NotAccepted, err
	}
	if CheckStateHistory(state, key) {
		return types.RootAcceptance{Found: true, Source: types.SourceStateHistory, ShardIndex: -1}, nil
	}

	datas, err := o.src.GetMultipleAccounts(ctx, o.pool.Shards)
	if err != nil {
		return types.NotAccepted, fmt.Errorf("fetch shards: %w", err)
	}
	shards := make([]*accounts.ShardAccount, len(datas))
	for i, data := range datas {
		if data == nil {
			o.logger.Warn().Str("pool", o.pool.ID).Int("shard", i).Msg("shard account missing")
			continue
		}
		if shards[i], err = accounts.DecodeShard(data, int(o.pool.ShardCapacity)); err != nil {
			return types.NotAccepted, fmt.Errorf("shard %d: %w", i, err)
		}
	}
	if i, ok := CheckShards(shards, key); ok {
		return types.RootAcceptance{Found: true, Source: types.SourceShardedRing, ShardIndex: i}, nil
	}
	o.logger.Debug().Str("pool", o.pool.ID).Str("root", root.Text(16)).Msg("root not accepted")
	return types.NotAccepted, nil
}

// State fetches and decodes the pool state account.
func (o *Oracle) State(ctx context.Context) (*accounts.StateAccount, error) {
	data, err := o.src.GetAccountInfo(ctx, o.pool.State)
	if err != nil {
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	return accounts.DecodeState(data)
}

func CheckStateHistory(state *accounts.StateAccount, root [field.Size]byte) bool {
	return state != nil && state.HasRoot(root)
}

// CheckShards returns the index of the first shard holding root. Nil shards
// are skipped.
func CheckShards(shards []*accounts.ShardAccount, root [field.Size]byte) (int, bool) {
	for i, s := range shards {
		if s != nil && s.HasRoot(root) {
			return i, true
		}
	}
	return -1, false
}
