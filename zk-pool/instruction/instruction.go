// Package instruction serializes withdraw and deposit calls for the pool
// program together with their ordered account lists.
package instruction

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/kysee/zkpool/zk-pool/accounts"
	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/types"
)

var (
	WithdrawDiscriminator = accounts.Discriminator("global", "withdraw")
	DepositDiscriminator  = accounts.Discriminator("global", "deposit")
)

// WithdrawDataSize is disc(8) + nullifier hash(32) + len(4) + proof(256) + root(32) + fee(8) + refund(8).
const WithdrawDataSize = 8 + field.Size + 4 + field.ProofSize + field.Size + 8 + 8

const DepositDataSize = 8 + field.Size

type AccountMeta struct {
	Address  types.Address `json:"pubkey"`
	Signer   bool          `json:"isSigner"`
	Writable bool          `json:"isWritable"`
}

type Instruction struct {
	ProgramID types.Address `json:"programId"`
	Accounts  []AccountMeta `json:"keys"`
	Data      []byte        `json:"data"`
}

type WithdrawParams struct {
	Proof         field.Proof
	Root          *big.Int
	NullifierHash *big.Int
	Recipient     types.Address
	FeeReceiver   types.Address
	Fee           uint64
	Refund        uint64
	Payer         types.Address
	// Acceptance is the oracle result for Root. NotAccepted means the root
	// came from the recovery service.
	Acceptance types.RootAcceptance
	LeafIndex  uint64
}

func WithdrawData(p *WithdrawParams) ([]byte, error) {
	nh, err := field.ToFixedWidthBE(p.NullifierHash)
	if err != nil {
		return nil, fmt.Errorf("nullifier hash: %w", err)
	}
	root, err := field.ToFixedWidthBE(p.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	proof, err := field.SerializeProof(p.Proof)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, WithdrawDataSize)
	data = append(data, WithdrawDiscriminator[:]...)
	data = append(data, nh[:]...)
	data = binary.LittleEndian.AppendUint32(data, field.ProofSize)
	data = append(data, proof[:]...)
	data = append(data, root[:]...)
	data = binary.LittleEndian.AppendUint64(data, p.Fee)
	data = binary.LittleEndian.AppendUint64(data, p.Refund)
	return data, nil
}

// ConditionalShard picks the shard account that must accompany a withdraw.
// It returns false when the root is in the state history.
func ConditionalShard(pool *types.PoolConfig, acc types.RootAcceptance, leafIndex uint64) (int, bool, error) {
	switch acc.Source {
	case types.SourceStateHistory:
		return 0, false, nil
	case types.SourceShardedRing:
		if acc.ShardIndex < 0 || acc.ShardIndex >= len(pool.Shards) {
			return 0, false, fmt.Errorf("shard index %d out of range", acc.ShardIndex)
		}
		return acc.ShardIndex, true, nil
	default:
		return pool.FallbackShard(leafIndex), true, nil
	}
}

func Withdraw(pool *types.PoolConfig, p *WithdrawParams) (*Instruction, error) {
	data, err := WithdrawData(p)
	if err != nil {
		return nil, err
	}
	feeReceiver := p.FeeReceiver
	if p.Fee == 0 {
		feeReceiver = types.SystemProgram
	}
	metas := []AccountMeta{
		{Address: pool.State, Writable: true},
		{Address: pool.Vault, Writable: true},
		{Address: pool.VerificationKey},
		{Address: p.Recipient, Writable: true},
		{Address: feeReceiver, Writable: true},
		{Address: p.Payer, Signer: true, Writable: true},
		{Address: types.SystemProgram},
	}
	shard, ok, err := ConditionalShard(pool, p.Acceptance, p.LeafIndex)
	if err != nil {
		return nil, err
	}
	if ok {
		metas = append(metas, AccountMeta{Address: pool.Shards[shard], Writable: true})
	}
	return &Instruction{ProgramID: pool.ProgramID, Accounts: metas, Data: data}, nil
}

// Deposit inserts commitment; nextIndex is the leaf it will occupy, which
// selects the shard receiving the new root.
func Deposit(pool *types.PoolConfig, commitment *big.Int, payer types.Address, nextIndex uint64) (*Instruction, error) {
	c, err := field.ToFixedWidthBE(commitment)
	if err != nil {
		return nil, fmt.Errorf("commitment: %w", err)
	}
	data := make([]byte, 0, DepositDataSize)
	data = append(data, DepositDiscriminator[:]...)
	data = append(data, c[:]...)
	return &Instruction{
		ProgramID: pool.ProgramID,
		Accounts: []AccountMeta{
			{Address: pool.State, Writable: true},
			{Address: pool.Vault, Writable: true},
			{Address: payer, Signer: true, Writable: true},
			{Address: types.SystemProgram},
			{Address: pool.Shards[pool.FallbackShard(nextIndex)], Writable: true},
		},
		Data: data,
	}, nil
}
