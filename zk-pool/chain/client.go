package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/kysee/zkpool/zk-pool/types"
)

const (
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// ErrNotFound is returned when the node has no record yet, e.g. a
// transaction that has not propagated.
var ErrNotFound = errors.New("not found")

// Client is the typed JSON-RPC surface used by the settlement layer.
type Client struct {
	exec       *Executor
	commitment string
}

func NewClient(exec *Executor, commitment string) *Client {
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	return &Client{exec: exec, commitment: commitment}
}

func (c *Client) Executor() *Executor {
	return c.exec
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.exec.Do(ctx, method, func(ctx context.Context, rc *gethrpc.Client) error {
		return rc.CallContext(ctx, result, method, args...)
	})
}

type accountValue struct {
	Data       []string `json:"data"`
	Owner      string   `json:"owner"`
	Lamports   uint64   `json:"lamports"`
	Executable bool     `json:"executable"`
}

func (v *accountValue) decode() ([]byte, error) {
	if len(v.Data) == 0 {
		return nil, nil
	}
	if len(v.Data) > 1 && v.Data[1] != "base64" {
		return nil, fmt.Errorf("unexpected account encoding %q", v.Data[1])
	}
	return base64.StdEncoding.DecodeString(v.Data[0])
}

func (c *Client) encodingOpts() map[string]interface{} {
	return map[string]interface{}{"encoding": "base64", "commitment": c.commitment}
}

// GetAccountInfo returns the raw account data, or ErrNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, addr types.Address) ([]byte, error) {
	var res struct {
		Value *accountValue `json:"value"`
	}
	if err := c.call(ctx, &res, "getAccountInfo", addr.String(), c.encodingOpts()); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("account %s: %w", addr, ErrNotFound)
	}
	return res.Value.decode()
}

// GetMultipleAccounts fetches all addrs in one request. Missing accounts are nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, addrs []types.Address) ([][]byte, error) {
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = a.String()
	}
	var res struct {
		Value []*accountValue `json:"value"`
	}
	if err := c.call(ctx, &res, "getMultipleAccounts", keys, c.encodingOpts()); err != nil {
		return nil, err
	}
	if len(res.Value) != len(addrs) {
		return nil, fmt.Errorf("getMultipleAccounts: asked %d, got %d", len(addrs), len(res.Value))
	}
	out := make([][]byte, len(addrs))
	for i, v := range res.Value {
		if v == nil {
			continue
		}
		data, err := v.decode()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addrs[i], err)
		}
		out[i] = data
	}
	return out, nil
}

// SendTransaction submits a signed, serialized transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	var sig string
	opts := map[string]interface{}{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	}
	err := c.call(ctx, &sig, "sendTransaction", base64.StdEncoding.EncodeToString(tx), opts)
	return sig, err
}

type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports an explicit on-chain failure.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Reached reports whether the status has reached the given commitment level.
func (s *SignatureStatus) Reached(commitment string) bool {
	switch commitment {
	case CommitmentFinalized:
		return s.ConfirmationStatus == CommitmentFinalized
	default:
		return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
	}
}

// GetSignatureStatuses returns one status per signature; unknown ones are nil.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...string) ([]*SignatureStatus, error) {
	var res struct {
		Value []*SignatureStatus `json:"value"`
	}
	opts := map[string]interface{}{"searchTransactionHistory": true}
	if err := c.call(ctx, &res, "getSignatureStatuses", sigs, opts); err != nil {
		return nil, err
	}
	if len(res.Value) != len(sigs) {
		return nil, fmt.Errorf("getSignatureStatuses: asked %d, got %d", len(sigs), len(res.Value))
	}
	return res.Value, nil
}

// GetTransactionLogs returns the log messages of a landed transaction.
func (c *Client) GetTransactionLogs(ctx context.Context, sig string) ([]string, error) {
	var res *struct {
		Meta *struct {
			Err         json.RawMessage `json:"err"`
			LogMessages []string        `json:"logMessages"`
		} `json:"meta"`
	}
	opts := map[string]interface{}{
		"encoding":                       "json",
		"commitment":                     CommitmentConfirmed,
		"maxSupportedTransactionVersion": 0,
	}
	if err := c.call(ctx, &res, "getTransaction", sig, opts); err != nil {
		return nil, err
	}
	if res == nil || res.Meta == nil {
		return nil, fmt.Errorf("transaction %s: %w", sig, ErrNotFound)
	}
	if len(res.Meta.Err) > 0 && string(res.Meta.Err) != "null" {
		return nil, fmt.Errorf("transaction %s: %w: %s", sig, types.ErrTransactionFailed, res.Meta.Err)
	}
	return res.Meta.LogMessages, nil
}

// GetLatestBlockhash is needed by signers assembling a transaction.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, &res, "getLatestBlockhash", map[string]interface{}{"commitment": c.commitment}); err != nil {
		return "", err
	}
	return res.Value.Blockhash, nil
}
