// Package chaintest is an in-process JSON-RPC node used by tests: it holds
// account data, signature statuses, transaction logs and spent nullifiers.
package chaintest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/kysee/zkpool/zk-pool/types"
)

type request struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SpentNullifierError is the preflight rejection a node returns for a
// transaction reusing a nullifier: the code in the message, the error name
// only in the simulation logs.
func SpentNullifierError() *RPCError {
	return &RPCError{
		Code:    -32002,
		Message: fmt.Sprintf("Transaction simulation failed: Error processing Instruction 0: custom program error: %#x", types.SpentNullifierCode),
		Data: map[string]interface{}{
			"err": map[string]interface{}{
				"InstructionError": []interface{}{0, map[string]interface{}{"Custom": types.SpentNullifierCode}},
			},
			"logs": []string{
				"Program zkpool invoke [1]",
				"Program log: Instruction: Withdraw",
				fmt.Sprintf("Program log: AnchorError occurred. Error Code: NullifierAlreadyUsed. Error Number: %d. Error Message: Nullifier already used.", types.SpentNullifierCode),
				fmt.Sprintf("Program zkpool failed: custom program error: %#x", types.SpentNullifierCode),
			},
		},
	}
}

// SpentNullifierStatus is the status of a landed transaction that failed
// because its nullifier was already used.
func SpentNullifierStatus(slot uint64) *Status {
	return &Status{
		Slot:               slot,
		Err:                json.RawMessage(fmt.Sprintf(`{"InstructionError":[0,{"Custom":%d}]}`, types.SpentNullifierCode)),
		ConfirmationStatus: "finalized",
	}
}

type response struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type Status struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// SendHook handles sendTransaction. It returns the signature and the logs
// the landed transaction emits, or an error.
type SendHook func(tx []byte) (string, []string, *RPCError)

type Node struct {
	*httptest.Server

	mu           sync.Mutex
	accounts     map[string][]byte
	statuses     map[string]*Status
	logs         map[string][]string
	nullifiers   map[string]bool
	nullifierOf  NullifierFunc
	calls        map[string]int
	rateLimited  int
	failures     int
	sendHook     SendHook
	autoFinalize bool
	sent         [][]byte
}

func NewNode() *Node {
	n := &Node{
		accounts:   make(map[string][]byte),
		statuses:   make(map[string]*Status),
		logs:       make(map[string][]string),
		nullifiers: make(map[string]bool),
		calls:      make(map[string]int),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

func (n *Node) SetAccount(addr types.Address, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[addr.String()] = append([]byte(nil), data...)
}

func (n *Node) SetStatus(sig string, st *Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses[sig] = st
}

func (n *Node) SetLogs(sig string, logs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs[sig] = logs
}

func (n *Node) SetSendHook(h SendHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendHook = h
}

// AutoFinalize makes every accepted transaction finalized at once.
func (n *Node) AutoFinalize() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.autoFinalize = true
}

// NullifierFunc extracts the nullifier a transaction spends, if any.
type NullifierFunc func(tx []byte) (string, bool)

// TrackNullifiers makes the node reject a second transaction spending the
// same nullifier, the way the pool program does.
func (n *Node) TrackNullifiers(f NullifierFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nullifierOf = f
}

func (n *Node) Spent(nullifier string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nullifiers[nullifier]
}

// RateLimitNext answers the next k requests with HTTP 429.
func (n *Node) RateLimitNext(k int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rateLimited = k
}

// FailNext answers the next k requests with HTTP 503.
func (n *Node) FailNext(k int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = k
}

func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *Node) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func (n *Node) Sent() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.sent...)
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	if n.rateLimited > 0 {
		n.rateLimited--
		n.mu.Unlock()
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	if n.failures > 0 {
		n.failures--
		n.mu.Unlock()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	result, rpcErr := n.dispatch(&req)
	n.mu.Unlock()

	resp := response{Version: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else if result == nil {
		resp.Result = json.RawMessage("null")
	} else {
		resp.Result = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func param[T any](req *request, i int) (T, bool) {
	var v T
	if i >= len(req.Params) {
		return v, false
	}
	return v, json.Unmarshal(req.Params[i], &v) == nil
}

func (n *Node) account(key string) interface{} {
	data, ok := n.accounts[key]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
		"owner":      types.SystemProgram.String(),
		"lamports":   1,
		"executable": false,
	}
}

func withContext(v interface{}) interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   v,
	}
}

var invalidParams = &RPCError{Code: -32602, Message: "invalid params"}

// dispatch runs with n.mu held.
func (n *Node) dispatch(req *request) (interface{}, *RPCError) {
	switch req.Method {
	case "getAccountInfo":
		key, ok := param[string](req, 0)
		if !ok {
			return nil, invalidParams
		}
		return withContext(n.account(key)), nil

	case "getMultipleAccounts":
		keys, ok := param[[]string](req, 0)
		if !ok {
			return nil, invalidParams
		}
		vals := make([]interface{}, len(keys))
		for i, k := range keys {
			vals[i] = n.account(k)
		}
		return withContext(vals), nil

	case "getSignatureStatuses":
		sigs, ok := param[[]string](req, 0)
		if !ok {
			return nil, invalidParams
		}
		vals := make([]*Status, len(sigs))
		for i, s := range sigs {
			vals[i] = n.statuses[s]
		}
		return withContext(vals), nil

	case "getTransaction":
		sig, ok := param[string](req, 0)
		if !ok {
			return nil, invalidParams
		}
		logs, ok := n.logs[sig]
		if !ok {
			return nil, nil
		}
		return map[string]interface{}{
			"slot": 1,
			"meta": map[string]interface{}{"err": nil, "logMessages": logs},
		}, nil

	case "sendTransaction":
		enc, ok := param[string](req, 0)
		if !ok {
			return nil, invalidParams
		}
		tx, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, invalidParams
		}
		if n.nullifierOf != nil {
			if key, ok := n.nullifierOf(tx); ok {
				if n.nullifiers[key] {
					return nil, SpentNullifierError()
				}
				n.nullifiers[key] = true
			}
		}
		n.sent = append(n.sent, tx)
		sig := fmt.Sprintf("sig-%d", len(n.sent))
		if n.sendHook != nil {
			var logs []string
			var rpcErr *RPCError
			if sig, logs, rpcErr = n.sendHook(tx); rpcErr != nil {
				return nil, rpcErr
			}
			if logs != nil {
				n.logs[sig] = logs
			}
		}
		if n.autoFinalize {
			n.statuses[sig] = &Status{Slot: uint64(len(n.sent)), ConfirmationStatus: "finalized"}
		}
		return sig, nil

	case "getLatestBlockhash":
		return withContext(map[string]interface{}{
			"blockhash":            types.SystemProgram.String(),
			"lastValidBlockHeight": 100,
		}), nil
	}
	return nil, &RPCError{Code: -32601, Message: "method not found: " + req.Method}
}
