// Package orchestrator drives notes through the deposit and withdrawal
// state machines.
package orchestrator

import (
	"context"
	"math/big"

	"github.com/kysee/zkpool/zk-pool/confirm"
	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/recovery"
	"github.com/kysee/zkpool/zk-pool/types"
)

type Stage string

const (
	StageCheckRoot        Stage = "check_root"
	StageRecoverPath      Stage = "recover_path"
	StageBuildWitness     Stage = "build_witness"
	StageGenerateProof    Stage = "generate_proof"
	StageBuildInstruction Stage = "build_instruction"
	StageSubmit           Stage = "submit"
	StageConfirm          Stage = "confirm"
	StageMarkSpent        Stage = "mark_spent"

	StageGeneratePayload Stage = "generate_payload"
	StageParseEvent      Stage = "parse_event"
	StageFinalizeNote    Stage = "finalize_note"
)

// Progress is told about every stage a note enters. It is not called once
// the caller's context is cancelled.
type Progress func(commitment string, stage Stage)

type RootChecker interface {
	IsAcceptedRoot(ctx context.Context, root *big.Int) (types.RootAcceptance, error)
}

type PathRecoverer interface {
	FetchPath(ctx context.Context, poolID string, commitment *big.Int) (*recovery.Path, error)
}

// Submitter sends an instruction and returns the transaction signature:
// the relay client or the local wallet.
type Submitter interface {
	Submit(ctx context.Context, ix *instruction.Instruction) (string, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, sig string) (confirm.Result, error)
}

type NoteStore interface {
	Put(n *types.Note) error
}

func report(ctx context.Context, p Progress, n *types.Note, s Stage) {
	if p == nil || ctx.Err() != nil {
		return
	}
	p(n.CommitmentHex(), s)
}
