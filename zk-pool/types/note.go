package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/kysee/zkpool/utils"
)

type NoteStatus string

const (
	NotePending   NoteStatus = "pending"
	NoteConfirmed NoteStatus = "confirmed"
	NoteSpent     NoteStatus = "spent"
	NoteExpired   NoteStatus = "expired"
)

// Hasher provides the two hash primitives the circuit commits with.
type Hasher interface {
	Hash1(x *big.Int) *big.Int
	Hash2(x, y *big.Int) *big.Int
}

type mimcHasher struct{}

func (mimcHasher) Hash1(x *big.Int) *big.Int    { return utils.Hash1(x) }
func (mimcHasher) Hash2(x, y *big.Int) *big.Int { return utils.Hash2(x, y) }

// DefaultHasher is MiMC over the BN254 scalar field.
var DefaultHasher Hasher = mimcHasher{}

// Note is a private deposit record.
// Commitment = H(Nullifier, Secret) and NullifierHash = H(Nullifier).
type Note struct {
	Commitment    *big.Int
	Nullifier     *big.Int
	Secret        *big.Int
	NullifierHash *big.Int

	LeafIndex uint64
	Root      *big.Int
	Path      []*big.Int

	PoolID    string
	DepositTx string
	Status    NoteStatus
	SpendTx   string
	CreatedAt uint64
}

// NewNote draws fresh secrets and derives the commitment and nullifier hash.
func NewNote(poolID string, h Hasher) (*Note, error) {
	nullifier, err := utils.RandFieldElement()
	if err != nil {
		return nil, err
	}
	secret, err := utils.RandFieldElement()
	if err != nil {
		return nil, err
	}
	return &Note{
		Commitment:    h.Hash2(nullifier, secret),
		Nullifier:     nullifier,
		Secret:        secret,
		NullifierHash: h.Hash1(nullifier),
		PoolID:        poolID,
		Status:        NotePending,
		CreatedAt:     uint64(time.Now().Unix()),
	}, nil
}

// Verify recomputes the commitment and nullifier hash from the secrets.
func (n *Note) Verify(h Hasher) error {
	if n.Nullifier == nil || n.Secret == nil || n.Commitment == nil {
		return fmt.Errorf("%w: missing secrets", ErrCommitmentMismatch)
	}
	if c := h.Hash2(n.Nullifier, n.Secret); c.Cmp(n.Commitment) != 0 {
		return fmt.Errorf("%w: stored %s, computed %s", ErrCommitmentMismatch, n.Commitment.Text(16), c.Text(16))
	}
	if n.NullifierHash != nil && n.NullifierHash.Sign() != 0 {
		if nh := h.Hash1(n.Nullifier); nh.Cmp(n.NullifierHash) != 0 {
			return fmt.Errorf("%w: nullifier hash", ErrCommitmentMismatch)
		}
	}
	return nil
}

// CommitmentHex is the note's stable key.
func (n *Note) CommitmentHex() string {
	return fmt.Sprintf("%064x", n.Commitment)
}

// Bytes returns the RLP-encoded note. It panics if the encoding fails.
func (n *Note) Bytes() []byte {
	b, err := rlp.EncodeToBytes(n)
	if err != nil {
		panic(fmt.Sprintf("failed to RLP encode Note: %v", err))
	}
	return b
}

func DecodeNote(bz []byte) (*Note, error) {
	n := new(Note)
	if err := rlp.DecodeBytes(bz, n); err != nil {
		return nil, err
	}
	// rlp has no nil big.Int; an unset hash comes back as zero
	if n.NullifierHash != nil && n.NullifierHash.Sign() == 0 {
		n.NullifierHash = nil
	}
	return n, nil
}
