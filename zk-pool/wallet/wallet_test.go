package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/chaintest"
	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

func testKey(t *testing.T) *Keypair {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	k, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	return k
}

func testInstruction(payer types.Address) *instruction.Instruction {
	return &instruction.Instruction{
		ProgramID: types.Address{0xaa},
		Accounts: []instruction.AccountMeta{
			{Address: types.Address{0x01}, Writable: true},
			{Address: types.Address{0x03}},
			{Address: payer, Signer: true, Writable: true},
			{Address: types.SystemProgram},
		},
		Data: []byte{1, 2, 3},
	}
}

func TestCompileMessage(t *testing.T) {
	k := testKey(t)
	ix := testInstruction(k.Address())
	msg, err := CompileMessage(ix, k.Address(), types.Address{0xbb})
	require.NoError(t, err)

	// 1 signer, 0 readonly signed, 3 readonly unsigned (0x03, system, program)
	require.Equal(t, []byte{1, 0, 3}, msg[:3])
	require.Equal(t, byte(5), msg[3])
	keys := msg[4 : 4+5*32]
	payer := k.Address()
	require.Equal(t, payer[:], keys[:32])
	require.Equal(t, byte(0x01), keys[32])
	require.Equal(t, byte(0xaa), keys[4*32])

	rest := msg[4+5*32:]
	require.Equal(t, byte(0xbb), rest[0])
	rest = rest[32:]
	// one instruction: program index 4, accounts [1 2 0 3], data
	require.Equal(t, []byte{1, 4, 4, 1, 2, 0, 3, 3, 1, 2, 3}, rest)
}

func TestSignTransaction(t *testing.T) {
	k := testKey(t)
	ix := testInstruction(k.Address())
	tx, err := SignTransaction(k, ix, types.Address{0xbb})
	require.NoError(t, err)
	require.Equal(t, byte(1), tx[0])

	msg, err := CompileMessage(ix, k.Address(), types.Address{0xbb})
	require.NoError(t, err)
	require.Equal(t, msg, tx[65:])
	pub := k.Address()
	require.True(t, ed25519.Verify(ed25519.PublicKey(pub[:]), msg, tx[1:65]))

	other := testInstruction(types.Address{0x99})
	_, err = SignTransaction(k, other, types.Address{})
	require.Error(t, err)
}

func TestAppendCompactU16(t *testing.T) {
	require.Equal(t, []byte{0x7f}, appendCompactU16(nil, 0x7f))
	require.Equal(t, []byte{0x80, 0x01}, appendCompactU16(nil, 0x80))
	require.Equal(t, []byte{0xff, 0xff, 0x03}, appendCompactU16(nil, 0xffff))
}

func TestLoadKeypair(t *testing.T) {
	k := testKey(t)
	nums := make([]int, len(k.priv))
	for i, b := range k.priv {
		nums[i] = int(b)
	}
	bz, err := json.Marshal(nums)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, bz, 0o600))

	loaded, err := LoadKeypair(path)
	require.NoError(t, err)
	require.Equal(t, k.Address(), loaded.Address())

	nums[40] ^= 1
	bz, _ = json.Marshal(nums)
	require.NoError(t, os.WriteFile(path, bz, 0o600))
	_, err = LoadKeypair(path)
	require.Error(t, err)
}

func TestSubmitter(t *testing.T) {
	node := chaintest.NewNode()
	defer node.Close()
	exec, err := chain.NewExecutor(chain.DefaultExecutorConfig(node.URL))
	require.NoError(t, err)
	defer exec.Close()

	k := testKey(t)
	s := NewSubmitter(chain.NewClient(exec, ""), k)
	require.Equal(t, k.Address(), s.Payer())

	spent := false
	node.SetSendHook(func(tx []byte) (string, []string, *chaintest.RPCError) {
		if spent {
			return "", nil, chaintest.SpentNullifierError()
		}
		spent = true
		return "sig-1", nil, nil
	})

	sig, err := s.Submit(context.Background(), testInstruction(k.Address()))
	require.NoError(t, err)
	require.Equal(t, "sig-1", sig)
	require.Len(t, node.Sent(), 1)

	_, err = s.Submit(context.Background(), testInstruction(k.Address()))
	require.ErrorIs(t, err, types.ErrDuplicateNullifier)
}

func TestSubmitterSpentNameOnlyInLogs(t *testing.T) {
	node := chaintest.NewNode()
	defer node.Close()
	exec, err := chain.NewExecutor(chain.DefaultExecutorConfig(node.URL))
	require.NoError(t, err)
	defer exec.Close()

	k := testKey(t)
	s := NewSubmitter(chain.NewClient(exec, ""), k)
	node.SetSendHook(func(tx []byte) (string, []string, *chaintest.RPCError) {
		rej := chaintest.SpentNullifierError()
		// some nodes report the bare error name without the code
		rej.Message = "Transaction simulation failed: Error processing Instruction 0"
		return "", nil, rej
	})

	_, err = s.Submit(context.Background(), testInstruction(k.Address()))
	require.ErrorIs(t, err, types.ErrDuplicateNullifier)
	// the node saw one send; a program error is not retried on other endpoints
	require.Equal(t, 1, node.Calls("sendTransaction"))

	node.SetSendHook(func(tx []byte) (string, []string, *chaintest.RPCError) {
		return "", nil, &chaintest.RPCError{Code: -32002, Message: "Transaction simulation failed: custom program error: 0x1429"}
	})
	_, err = s.Submit(context.Background(), testInstruction(k.Address()))
	require.Error(t, err)
	require.NotErrorIs(t, err, types.ErrDuplicateNullifier)
	require.NotErrorIs(t, err, types.ErrAllEndpointsUnavailable)
	require.Equal(t, 2, node.Calls("sendTransaction"))
}
