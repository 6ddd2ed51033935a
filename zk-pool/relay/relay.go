// Package relay submits withdrawals through a relayer so the recipient never
// signs or pays for the transaction.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/service"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

type Client struct {
	svc *service.Client
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{svc: service.New(baseURL, timeout, logger)}
}

// Info is the relayer's advertised fee terms.
type Info struct {
	FeeReceiver types.Address `json:"feeReceiver"`
	Fee         uint64        `json:"fee"`
}

func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.svc.Do(ctx, http.MethodGet, "/v1/info", nil, &info); err != nil {
		return nil, fmt.Errorf("relay info: %w", err)
	}
	return &info, nil
}

type submitRequest struct {
	Instruction *instruction.Instruction `json:"instruction"`
}

type submitResponse struct {
	Signature string `json:"signature"`
}

// Submit hands the instruction to the relayer and returns the transaction
// signature. A relayer reporting the nullifier as spent yields
// ErrDuplicateNullifier.
func (c *Client) Submit(ctx context.Context, ix *instruction.Instruction) (string, error) {
	var resp submitResponse
	err := c.svc.Do(ctx, http.MethodPost, "/v1/relay", submitRequest{Instruction: ix}, &resp)
	if err != nil {
		if isDuplicate(err) {
			return "", fmt.Errorf("relay: %w", types.ErrDuplicateNullifier)
		}
		return "", fmt.Errorf("relay: %w", err)
	}
	if resp.Signature == "" {
		return "", errors.New("relay: empty signature")
	}
	return resp.Signature, nil
}

func isDuplicate(err error) bool {
	var se *service.StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusConflict {
		return true
	}
	return types.IsSpentMessage(se.Body)
}
