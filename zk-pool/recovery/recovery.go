// Package recovery fetches a fresh Merkle path for a note whose cached root
// has left the accepted set.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/kysee/zkpool/zk-pool/service"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

type Path struct {
	Root      *big.Int
	Elements  []*big.Int
	LeafIndex uint64
}

// Apply replaces the note's cached position.
func (p *Path) Apply(n *types.Note) {
	n.Root = p.Root
	n.Path = p.Elements
	n.LeafIndex = p.LeafIndex
}

type Client struct {
	svc *service.Client
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{svc: service.New(baseURL, timeout, logger)}
}

type pathResponse struct {
	Root      string   `json:"root"`
	Path      []string `json:"path"`
	LeafIndex uint64   `json:"leafIndex"`
}

// FetchPath asks for the current root and sibling path of commitment.
// Unknown commitments return ErrNoteNotFound.
func (c *Client) FetchPath(ctx context.Context, poolID string, commitment *big.Int) (*Path, error) {
	q := url.Values{}
	q.Set("pool", poolID)
	q.Set("commitment", fmt.Sprintf("%064x", commitment))

	var resp pathResponse
	err := c.svc.Do(ctx, http.MethodGet, "/v1/path?"+q.Encode(), nil, &resp)
	var se *service.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, fmt.Errorf("recovery: %w", types.ErrNoteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}

	p := &Path{LeafIndex: resp.LeafIndex, Elements: make([]*big.Int, len(resp.Path))}
	if p.Root, err = parseInt(resp.Root); err != nil {
		return nil, err
	}
	for i, s := range resp.Path {
		if p.Elements[i], err = parseInt(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// parseInt accepts decimal or 0x-prefixed hex.
func parseInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("recovery: malformed field element %q", s)
	}
	return v, nil
}
