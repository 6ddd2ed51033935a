// Package witness assembles the withdrawal circuit inputs from a note.
package witness

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Request carries the withdrawal parameters chosen by the user.
type Request struct {
	Recipient   types.Address
	FeeReceiver types.Address
	Fee         uint64
	Refund      uint64
}

// EffectiveFeeReceiver is FeeReceiver, or the system account when no fee is paid.
func (r Request) EffectiveFeeReceiver() types.Address {
	if r.Fee == 0 {
		return types.SystemProgram
	}
	return r.FeeReceiver
}

type Witness struct {
	// public
	Root          *big.Int
	NullifierHash *big.Int
	RecipientHigh *big.Int
	RecipientLow  *big.Int
	RelayerHigh   *big.Int
	RelayerLow    *big.Int
	Fee           uint64
	Refund        uint64

	// private
	Nullifier    *big.Int
	Secret       *big.Int
	PathElements []*big.Int
	PathIndices  []uint8
}

type Builder struct {
	Depth  int
	Hasher types.Hasher
}

func NewBuilder(depth int, h types.Hasher) *Builder {
	if h == nil {
		h = types.DefaultHasher
	}
	return &Builder{Depth: depth, Hasher: h}
}

// Build checks the note invariant and lays out every circuit input. A note
// whose commitment does not match its secrets fails with
// ErrCommitmentMismatch and must not be retried.
func (b *Builder) Build(note *types.Note, req Request) (*Witness, error) {
	if err := note.Verify(b.Hasher); err != nil {
		return nil, err
	}
	if note.Root == nil {
		return nil, errors.New("note has no root")
	}
	if len(note.Path) != b.Depth {
		return nil, fmt.Errorf("note path has %d siblings, tree depth is %d", len(note.Path), b.Depth)
	}
	if note.Root.Sign() < 0 || note.Root.Cmp(field.ScalarModulus()) >= 0 {
		return nil, fmt.Errorf("root: %w", field.ErrFieldOverflow)
	}

	w := &Witness{
		Root:          new(big.Int).Set(note.Root),
		NullifierHash: b.Hasher.Hash1(note.Nullifier),
		Fee:           req.Fee,
		Refund:        req.Refund,
		Nullifier:     new(big.Int).Set(note.Nullifier),
		Secret:        new(big.Int).Set(note.Secret),
		PathElements:  make([]*big.Int, b.Depth),
		PathIndices:   PathBits(note.LeafIndex, b.Depth),
	}
	w.RecipientHigh, w.RecipientLow = field.SplitAddressInts(req.Recipient)
	w.RelayerHigh, w.RelayerLow = field.SplitAddressInts(req.EffectiveFeeReceiver())
	for i, s := range note.Path {
		if s == nil {
			return nil, fmt.Errorf("path element %d is missing", i)
		}
		w.PathElements[i] = field.Reduce(s)
	}
	return w, nil
}

// PathBits returns the direction bits of leafIndex, least significant first.
func PathBits(leafIndex uint64, depth int) []uint8 {
	bits := make([]uint8, depth)
	for i := 0; i < depth && i < 64; i++ {
		bits[i] = uint8((leafIndex >> uint(i)) & 1)
	}
	return bits
}

// PublicInputs lists the public signals in verifier order.
func (w *Witness) PublicInputs() []*big.Int {
	return []*big.Int{
		w.Root,
		w.NullifierHash,
		w.RecipientHigh,
		w.RecipientLow,
		w.RelayerHigh,
		w.RelayerLow,
		new(big.Int).SetUint64(w.Fee),
		new(big.Int).SetUint64(w.Refund),
	}
}

// Inputs renders the witness the way the proving engine reads it: decimal
// strings keyed by circuit signal name.
func (w *Witness) Inputs() map[string]interface{} {
	elems := make([]string, len(w.PathElements))
	for i, e := range w.PathElements {
		elems[i] = e.String()
	}
	idx := make([]string, len(w.PathIndices))
	for i, b := range w.PathIndices {
		idx[i] = strconv.Itoa(int(b))
	}
	return map[string]interface{}{
		"root":          w.Root.String(),
		"nullifierHash": w.NullifierHash.String(),
		"recipientHigh": w.RecipientHigh.String(),
		"recipientLow":  w.RecipientLow.String(),
		"relayerHigh":   w.RelayerHigh.String(),
		"relayerLow":    w.RelayerLow.String(),
		"fee":           strconv.FormatUint(w.Fee, 10),
		"refund":        strconv.FormatUint(w.Refund, 10),
		"nullifier":     w.Nullifier.String(),
		"secret":        w.Secret.String(),
		"pathElements":  elems,
		"pathIndices":   idx,
	}
}
