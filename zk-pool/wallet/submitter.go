package wallet

import (
	"context"
	"fmt"

	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Submitter sends instructions signed by the local key.
type Submitter struct {
	client *chain.Client
	key    *Keypair
}

func NewSubmitter(client *chain.Client, key *Keypair) *Submitter {
	return &Submitter{client: client, key: key}
}

func (s *Submitter) Payer() types.Address {
	return s.key.Address()
}

// Submit signs ix over a fresh blockhash and sends it. A node rejecting the
// transaction because the nullifier is spent yields ErrDuplicateNullifier.
func (s *Submitter) Submit(ctx context.Context, ix *instruction.Instruction) (string, error) {
	bh, err := s.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	blockhash, err := types.ParseAddress(bh)
	if err != nil {
		return "", fmt.Errorf("blockhash: %w", err)
	}
	tx, err := SignTransaction(s.key, ix, blockhash)
	if err != nil {
		return "", err
	}
	sig, err := s.client.SendTransaction(ctx, tx)
	if err != nil {
		if chain.IsSpentNullifier(err) {
			return "", fmt.Errorf("%w: %v", types.ErrDuplicateNullifier, err)
		}
		return "", err
	}
	return sig, nil
}
