package chain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kysee/zkpool/zk-pool/chaintest"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

func TestClientAccounts(t *testing.T) {
	node := newNode(t)
	client := NewClient(newTestExecutor(t, time.Second, node), CommitmentConfirmed)
	ctx := context.Background()

	var present, missing types.Address
	present[0], missing[0] = 1, 2
	node.SetAccount(present, []byte{1, 2, 3})

	data, err := client.GetAccountInfo(ctx, present)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)

	_, err = client.GetAccountInfo(ctx, missing)
	require.ErrorIs(t, err, ErrNotFound)

	all, err := client.GetMultipleAccounts(ctx, []types.Address{missing, present})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Nil(t, all[0])
	require.Equal(t, []byte{1, 2, 3}, all[1])
	require.Equal(t, 1, node.Calls("getMultipleAccounts"))
}

func TestClientSignatures(t *testing.T) {
	node := newNode(t)
	client := NewClient(newTestExecutor(t, time.Second, node), "")
	ctx := context.Background()

	node.SetSendHook(func(tx []byte) (string, []string, *chaintest.RPCError) {
		return "sig1", nil, nil
	})
	sig, err := client.SendTransaction(ctx, []byte("tx"))
	require.NoError(t, err)
	require.Equal(t, "sig1", sig)
	require.Equal(t, [][]byte{[]byte("tx")}, node.Sent())

	node.SetStatus("sig1", &chaintest.Status{Slot: 9, ConfirmationStatus: CommitmentConfirmed})
	node.SetStatus("bad", &chaintest.Status{Slot: 9, Err: json.RawMessage(`{"InstructionError":[0,"Custom"]}`)})
	sts, err := client.GetSignatureStatuses(ctx, "sig1", "unknown", "bad")
	require.NoError(t, err)
	require.Len(t, sts, 3)
	require.True(t, sts[0].Reached(CommitmentConfirmed))
	require.False(t, sts[0].Reached(CommitmentFinalized))
	require.False(t, sts[0].Failed())
	require.Nil(t, sts[1])
	require.True(t, sts[2].Failed())
}

func TestClientTransactionLogs(t *testing.T) {
	node := newNode(t)
	client := NewClient(newTestExecutor(t, time.Second, node), "")
	ctx := context.Background()

	_, err := client.GetTransactionLogs(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	node.SetLogs("sig", []string{"Program log: hi"})
	logs, err := client.GetTransactionLogs(ctx, "sig")
	require.NoError(t, err)
	require.Equal(t, []string{"Program log: hi"}, logs)
}
