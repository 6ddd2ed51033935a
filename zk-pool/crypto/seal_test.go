package crypto

import (
	crand "crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Encrypt(t *testing.T) {
	m := []byte("hello")

	secret := make([]byte, 32)
	n, err := crand.Read(secret)
	require.NoError(t, err)
	require.Equal(t, 32, n)

	stream, err := ExpandKey(secret, "zkpool_Test", 44)
	require.NoError(t, err)
	require.Equal(t, 44, len(stream))

	enc, err := Encrypt(stream[:32], stream[32:44], m, []byte("adata"))
	require.NoError(t, err)

	dec, err := Decrypt(stream[:32], stream[32:44], enc, []byte("adata"))
	require.NoError(t, err)
	require.Equal(t, m, dec)

	_, err = Decrypt(stream[:32], stream[32:44], enc, []byte("other"))
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = Encrypt(stream[:31], stream[32:44], m, nil)
	require.Error(t, err)
}

func TestExpandKeyDeterministic(t *testing.T) {
	secret := make([]byte, 32)
	a, err := ExpandKey(secret, "p", 70)
	require.NoError(t, err)
	b, err := ExpandKey(secret, "p", 70)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := ExpandKey(secret, "q", 70)
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	_, err = ExpandKey(secret[:31], "p", 32)
	require.Error(t, err)
}

func TestSealer(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	s, err := NewSealer("correct horse", salt)
	require.NoError(t, err)
	sealed, err := s.Seal([]byte("note"), []byte("key-1"))
	require.NoError(t, err)

	out, err := s.Open(sealed, []byte("key-1"))
	require.NoError(t, err)
	require.Equal(t, []byte("note"), out)

	// records are bound to their key
	_, err = s.Open(sealed, []byte("key-2"))
	require.ErrorIs(t, err, ErrDecrypt)

	wrong, err := NewSealer("battery staple", salt)
	require.NoError(t, err)
	_, err = wrong.Open(sealed, []byte("key-1"))
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = s.Open([]byte{1, 2}, nil)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = NewSealer("", salt)
	require.Error(t, err)
}
