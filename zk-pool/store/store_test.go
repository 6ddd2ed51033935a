package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/kysee/zkpool/zk-pool/crypto"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

func newNote(t *testing.T, created uint64) *types.Note {
	n, err := types.NewNote("pool-1", types.DefaultHasher)
	require.NoError(t, err)
	n.CreatedAt = created
	return n
}

func TestPutGet(t *testing.T) {
	s, err := OpenMemory("")
	require.NoError(t, err)
	defer s.Close()

	n := newNote(t, 1)
	n.LeafIndex = 4
	n.Root = big.NewInt(10)
	n.Path = []*big.Int{big.NewInt(1), big.NewInt(2)}
	require.NoError(t, s.Put(n))

	got, err := s.Get(n.Commitment)
	require.NoError(t, err)
	require.Equal(t, n.Commitment, got.Commitment)
	require.Equal(t, n.Secret, got.Secret)
	require.Equal(t, uint64(4), got.LeafIndex)
	require.Len(t, got.Path, 2)
	require.NoError(t, got.Verify(types.DefaultHasher))

	_, err = s.Get(big.NewInt(5))
	require.ErrorIs(t, err, types.ErrNoteNotFound)
}

func TestListByStatus(t *testing.T) {
	s, err := OpenMemory("pw")
	require.NoError(t, err)
	defer s.Close()

	a, b, c := newNote(t, 3), newNote(t, 1), newNote(t, 2)
	b.Status = types.NoteConfirmed
	c.Status = types.NoteSpent
	for _, n := range []*types.Note{a, b, c} {
		require.NoError(t, s.Put(n))
	}

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].CreatedAt, all[1].CreatedAt, all[2].CreatedAt})

	live, err := s.List(types.NotePending, types.NoteConfirmed)
	require.NoError(t, err)
	require.Len(t, live, 2)

	// status update overwrites in place
	b.Status = types.NoteSpent
	b.SpendTx = "sig"
	require.NoError(t, s.Put(b))
	spent, err := s.List(types.NoteSpent)
	require.NoError(t, err)
	require.Len(t, spent, 2)
}

func TestEncryptedReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "notes")
	s, err := Open(dir, "secret")
	require.NoError(t, err)
	n := newNote(t, 1)
	require.NoError(t, s.Put(n))

	// the raw record does not carry the secret in clear
	raw, err := s.db.Get(noteKey(n.Commitment), nil)
	require.NoError(t, err)
	require.NotContains(t, string(raw), string(n.Secret.Bytes()))
	require.NoError(t, s.Close())

	_, err = Open(dir, "wrong")
	require.ErrorIs(t, err, crypto.ErrDecrypt)

	s, err = Open(dir, "secret")
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(n.Commitment)
	require.NoError(t, err)
	require.Equal(t, n.Nullifier, got.Nullifier)
}
