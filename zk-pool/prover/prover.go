// Package prover turns a withdrawal witness into a Groth16 proof, either via
// the external proving service or a locally compiled gnark circuit.
package prover

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/service"
	"github.com/kysee/zkpool/zk-pool/witness"
	"github.com/rs/zerolog"
)

type Result struct {
	Proof         field.Proof
	PublicSignals []*big.Int
}

type Engine interface {
	Prove(ctx context.Context, w *witness.Witness) (*Result, error)
}

// Remote posts circuit inputs to a proving service.
type Remote struct {
	svc  *service.Client
	path string
}

func NewRemote(baseURL string, timeout time.Duration, logger zerolog.Logger) *Remote {
	return &Remote{svc: service.New(baseURL, timeout, logger), path: "/v1/prove"}
}

type proveRequest struct {
	Input map[string]interface{} `json:"input"`
}

type proveResponse struct {
	Proof struct {
		PiA []string   `json:"pi_a"`
		PiB [][]string `json:"pi_b"`
		PiC []string   `json:"pi_c"`
	} `json:"proof"`
	PublicSignals []string `json:"publicSignals"`
}

func (r *Remote) Prove(ctx context.Context, w *witness.Witness) (*Result, error) {
	var resp proveResponse
	if err := r.svc.Do(ctx, http.MethodPost, r.path, proveRequest{Input: w.Inputs()}, &resp); err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	proof, err := field.ProofFromStrings(resp.Proof.PiA, resp.Proof.PiB, resp.Proof.PiC)
	if err != nil {
		return nil, err
	}
	res := &Result{Proof: proof, PublicSignals: make([]*big.Int, len(resp.PublicSignals))}
	for i, s := range resp.PublicSignals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("malformed public signal %q", s)
		}
		res.PublicSignals[i] = v
	}
	if err := CheckPublicSignals(w, res.PublicSignals); err != nil {
		return nil, err
	}
	return res, nil
}

// CheckPublicSignals compares the signals a prover reports with the witness.
// An empty list is accepted.
func CheckPublicSignals(w *witness.Witness, signals []*big.Int) error {
	if len(signals) == 0 {
		return nil
	}
	want := w.PublicInputs()
	if len(signals) != len(want) {
		return fmt.Errorf("prover returned %d public signals, want %d", len(signals), len(want))
	}
	for i := range want {
		if want[i].Cmp(signals[i]) != 0 {
			return fmt.Errorf("public signal %d: got %s, want %s", i, signals[i], want[i])
		}
	}
	return nil
}
