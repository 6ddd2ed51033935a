package witness

import (
	"math/big"
	"testing"

	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

const depth = 4

func testNote(t *testing.T) *types.Note {
	n, err := types.NewNote("pool-1", types.DefaultHasher)
	require.NoError(t, err)
	n.LeafIndex = 5
	n.Root = big.NewInt(777)
	n.Path = []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)}
	return n
}

func addr(b byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = b + byte(i)
	}
	return a
}

func TestBuild(t *testing.T) {
	note := testNote(t)
	recipient, relayer := addr(0x10), addr(0x80)
	w, err := NewBuilder(depth, nil).Build(note, Request{Recipient: recipient, FeeReceiver: relayer, Fee: 5000})
	require.NoError(t, err)

	require.Equal(t, note.Root, w.Root)
	require.Equal(t, note.NullifierHash, w.NullifierHash)
	require.Equal(t, []uint8{1, 0, 1, 0}, w.PathIndices)

	hi, lo := field.SplitAddressInts(recipient)
	require.Equal(t, hi, w.RecipientHigh)
	require.Equal(t, lo, w.RecipientLow)
	hi, lo = field.SplitAddressInts(relayer)
	require.Equal(t, hi, w.RelayerHigh)
	require.Equal(t, lo, w.RelayerLow)
	require.Equal(t, uint64(5000), w.Fee)

	in := w.Inputs()
	require.Equal(t, "777", in["root"])
	require.Equal(t, "5000", in["fee"])
	require.Equal(t, "0", in["refund"])
	require.Equal(t, []string{"1", "2", "3", "4"}, in["pathElements"])
	require.Equal(t, []string{"1", "0", "1", "0"}, in["pathIndices"])
	require.Equal(t, note.Secret.String(), in["secret"])
	require.Len(t, in, 12)

	pub := w.PublicInputs()
	require.Len(t, pub, 8)
	require.Equal(t, big.NewInt(5000), pub[6])
}

func TestBuildZeroFeeUsesSentinel(t *testing.T) {
	note := testNote(t)
	w, err := NewBuilder(depth, nil).Build(note, Request{Recipient: addr(1), FeeReceiver: addr(0x80)})
	require.NoError(t, err)
	require.Zero(t, w.RelayerHigh.Sign())
	require.Zero(t, w.RelayerLow.Sign())
}

func TestBuildReducesSiblings(t *testing.T) {
	note := testNote(t)
	r := field.ScalarModulus()
	note.Path[2] = new(big.Int).Add(r, big.NewInt(9))
	w, err := NewBuilder(depth, nil).Build(note, Request{Recipient: addr(1)})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9), w.PathElements[2])
}

func TestBuildCommitmentMismatch(t *testing.T) {
	note := testNote(t)
	note.Commitment = new(big.Int).Add(note.Commitment, big.NewInt(1))
	_, err := NewBuilder(depth, nil).Build(note, Request{Recipient: addr(1)})
	require.ErrorIs(t, err, types.ErrCommitmentMismatch)
}

func TestBuildRejectsBadPath(t *testing.T) {
	note := testNote(t)
	note.Path = note.Path[:3]
	_, err := NewBuilder(depth, nil).Build(note, Request{Recipient: addr(1)})
	require.Error(t, err)

	note = testNote(t)
	note.Root = nil
	_, err = NewBuilder(depth, nil).Build(note, Request{Recipient: addr(1)})
	require.Error(t, err)

	note = testNote(t)
	note.Root = field.ScalarModulus()
	_, err = NewBuilder(depth, nil).Build(note, Request{Recipient: addr(1)})
	require.ErrorIs(t, err, field.ErrFieldOverflow)
}

func TestPathBits(t *testing.T) {
	require.Equal(t, []uint8{0, 0, 0}, PathBits(0, 3))
	require.Equal(t, []uint8{1, 1, 0, 1, 0}, PathBits(11, 5))
	require.Equal(t, []uint8{1, 1}, PathBits(7, 2))
}
