package prover

import (
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/witness"
)

// AssignFunc fills a circuit assignment from a withdrawal witness.
type AssignFunc func(w *witness.Witness) (frontend.Circuit, error)

// Local proves with a compiled BN254 constraint system. When vk is set
// every proof is verified before it is returned. The caller supplies the
// circuit; the zkpool binary only talks to a remote engine.
type Local struct {
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
	assign AssignFunc
}

func NewLocal(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey, assign AssignFunc) *Local {
	return &Local{ccs: ccs, pk: pk, vk: vk, assign: assign}
}

func (l *Local) Prove(ctx context.Context, w *witness.Witness) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assignment, err := l.assign(w)
	if err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness: %w", err)
	}
	proof, err := groth16.Prove(l.ccs, l.pk, full)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	if l.vk != nil {
		pub, err := full.Public()
		if err != nil {
			return nil, err
		}
		if err := groth16.Verify(proof, l.vk, pub); err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
	}
	bnProof, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unexpected proof type %T", proof)
	}
	return &Result{Proof: field.ProofFromGnark(bnProof), PublicSignals: w.PublicInputs()}, nil
}
