package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/types"
)

type wsRequest struct {
	Version string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

// subscribe waits for a signatureNotification on the websocket endpoint.
func (t *Tracker) subscribe(ctx context.Context, sig string) (Result, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.WebsocketURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return Result{}, fmt.Errorf("dial %s: %w", t.cfg.WebsocketURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	req := wsRequest{
		Version: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params:  []interface{}{sig, map[string]string{"commitment": t.cfg.Commitment}},
	}
	if err := conn.WriteJSON(req); err != nil {
		return Result{}, t.ctxErr(ctx, err)
	}

	subscribed := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return Result{}, t.ctxErr(ctx, err)
		}
		switch {
		case msg.ID != nil && *msg.ID == req.ID:
			if msg.Error != nil {
				return Result{}, fmt.Errorf("signatureSubscribe: %d %s", msg.Error.Code, msg.Error.Message)
			}
			subscribed = true
			// the transaction may have landed before the subscription existed
			res, ok, err := t.check(ctx, sig)
			if ok || errors.Is(err, types.ErrTransactionFailed) {
				return res, err
			}
		case subscribed && msg.Method == "signatureNotification" && msg.Params != nil:
			value := bytes.TrimSpace(msg.Params.Result.Value)
			if len(value) == 0 || value[0] != '{' {
				// receivedSignature notice
				continue
			}
			var v struct {
				Err json.RawMessage `json:"err"`
			}
			if err := json.Unmarshal(value, &v); err != nil {
				return Result{}, err
			}
			if len(v.Err) > 0 && string(v.Err) != "null" {
				return Result{}, chain.FailureError(sig, v.Err)
			}
			return Result{Signature: sig, Status: StatusFinalized, Slot: msg.Params.Result.Context.Slot}, nil
		}
	}
}

func (t *Tracker) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
