package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/confirm"
	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/witness"
	"github.com/rs/zerolog"
)

type WithdrawRequest struct {
	Note        *types.Note
	Recipient   types.Address
	FeeReceiver types.Address
	Fee         uint64
}

type Outcome string

const (
	// OutcomeSpent: the withdrawal is final and the note is marked spent.
	OutcomeSpent Outcome = "spent"
	// OutcomeAlreadySpent: the nullifier was spent by an earlier submission.
	OutcomeAlreadySpent Outcome = "already_spent"
	// OutcomePending: submitted but not final before the confirmation timeout.
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

type WithdrawResult struct {
	Commitment string
	Signature  string
	Outcome    Outcome
	Acceptance types.RootAcceptance
	Recovered  bool
	Err        error
}

type Withdrawer struct {
	Pool      *types.PoolConfig
	Oracle    RootChecker
	Recovery  PathRecoverer
	Witness   *witness.Builder
	Prover    prover.Engine
	Submitter Submitter
	// Payer signs the instruction: the wallet, or the relayer's fee payer.
	Payer    types.Address
	Tracker  Confirmer
	Store    NoteStore
	Progress Progress
	Logger   zerolog.Logger
}

// Withdraw runs CheckRoot, BuildWitness, GenerateProof, BuildInstruction,
// Submit, Confirm and MarkSpent for one note.
//
// Cancelling ctx stops the pipeline between stages. Once an instruction has
// been handed to the submitter the submission itself is not cancelled; a
// later retry of the same note settles as OutcomeAlreadySpent.
func (w *Withdrawer) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	res, err := w.submit(ctx, req)
	if err != nil || res.Outcome != "" {
		return res, err
	}
	return res, w.settle(ctx, req.Note, res)
}

// submit runs every stage up to and including Submit. A non-empty Outcome
// means the note is settled without confirmation.
func (w *Withdrawer) submit(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	note := req.Note
	if note == nil || note.Commitment == nil {
		return &WithdrawResult{Outcome: OutcomeFailed, Err: types.ErrCommitmentMismatch}, types.ErrCommitmentMismatch
	}
	res := &WithdrawResult{Commitment: note.CommitmentHex()}
	log := w.Logger.With().Str("note", res.Commitment[:16]).Logger()

	if note.Status == types.NoteSpent {
		res.Outcome = OutcomeAlreadySpent
		res.Signature = note.SpendTx
		return res, nil
	}
	if err := w.checkFee(req.Fee); err != nil {
		return w.fail(res, err)
	}

	report(ctx, w.Progress, note, StageCheckRoot)
	acc, err := w.checkRoot(ctx, note)
	if err != nil {
		return w.fail(res, err)
	}
	if !acc.Found {
		report(ctx, w.Progress, note, StageRecoverPath)
		if err := w.recoverPath(ctx, note); err != nil {
			return w.fail(res, err)
		}
		res.Recovered = true
		log.Info().Uint64("leaf", note.LeafIndex).Msg("cached root expired, using recovered path")
	}
	res.Acceptance = acc

	if err := ctx.Err(); err != nil {
		return w.fail(res, err)
	}
	report(ctx, w.Progress, note, StageBuildWitness)
	wreq := witness.Request{Recipient: req.Recipient, FeeReceiver: req.FeeReceiver, Fee: req.Fee}
	wit, err := w.Witness.Build(note, wreq)
	if err != nil {
		return w.fail(res, err)
	}

	report(ctx, w.Progress, note, StageGenerateProof)
	proof, err := w.Prover.Prove(ctx, wit)
	if err != nil {
		return w.fail(res, err)
	}

	report(ctx, w.Progress, note, StageBuildInstruction)
	ix, err := instruction.Withdraw(w.Pool, &instruction.WithdrawParams{
		Proof:         proof.Proof,
		Root:          wit.Root,
		NullifierHash: wit.NullifierHash,
		Recipient:     req.Recipient,
		FeeReceiver:   wreq.EffectiveFeeReceiver(),
		Fee:           req.Fee,
		Refund:        wit.Refund,
		Payer:         w.Payer,
		Acceptance:    acc,
		LeafIndex:     note.LeafIndex,
	})
	if err != nil {
		return w.fail(res, err)
	}

	if err := ctx.Err(); err != nil {
		return w.fail(res, err)
	}
	report(ctx, w.Progress, note, StageSubmit)
	sig, err := w.Submitter.Submit(context.WithoutCancel(ctx), ix)
	if errors.Is(err, types.ErrDuplicateNullifier) {
		log.Info().Msg("nullifier already spent, treating as withdrawn")
		res.Outcome = OutcomeAlreadySpent
		return res, w.markSpent(ctx, note, "")
	}
	if err != nil {
		return w.fail(res, err)
	}
	res.Signature = sig
	log.Info().Str("sig", sig).Msg("withdrawal submitted")
	return res, nil
}

// settle runs Confirm and MarkSpent for a submitted withdrawal.
func (w *Withdrawer) settle(ctx context.Context, note *types.Note, res *WithdrawResult) error {
	report(ctx, w.Progress, note, StageConfirm)
	cres, err := w.Tracker.Confirm(ctx, res.Signature)
	if errors.Is(err, types.ErrDuplicateNullifier) {
		// an earlier submission of this note landed first
		w.Logger.Info().Str("sig", res.Signature).Msg("withdrawal failed on a spent nullifier, treating as withdrawn")
		res.Outcome = OutcomeAlreadySpent
		return w.markSpent(ctx, note, "")
	}
	if err != nil {
		if cres.Status == confirm.StatusPending {
			// the caller gave up waiting; the transaction may still land
			res.Outcome = OutcomePending
			return w.recordSpendTx(note, res.Signature)
		}
		_, err = w.fail(res, err)
		return err
	}
	if !cres.Finalized() {
		res.Outcome = OutcomePending
		return w.recordSpendTx(note, res.Signature)
	}
	res.Outcome = OutcomeSpent
	return w.markSpent(ctx, note, res.Signature)
}

func (w *Withdrawer) checkFee(fee uint64) error {
	if w.Pool.Denomination != nil && w.Pool.Denomination.Lt(uint256.NewInt(fee)) {
		return fmt.Errorf("fee %d exceeds denomination %s", fee, w.Pool.Denomination.Dec())
	}
	return nil
}

func (w *Withdrawer) checkRoot(ctx context.Context, note *types.Note) (types.RootAcceptance, error) {
	if note.Root == nil || note.Root.Sign() == 0 {
		return types.NotAccepted, nil
	}
	return w.Oracle.IsAcceptedRoot(ctx, note.Root)
}

func (w *Withdrawer) recoverPath(ctx context.Context, note *types.Note) error {
	if w.Recovery == nil {
		return types.ErrStaleRoot
	}
	p, err := w.Recovery.FetchPath(ctx, note.PoolID, note.Commitment)
	if err != nil {
		return err
	}
	p.Apply(note)
	return w.save(note)
}

func (w *Withdrawer) markSpent(ctx context.Context, note *types.Note, sig string) error {
	report(ctx, w.Progress, note, StageMarkSpent)
	note.Status = types.NoteSpent
	if sig != "" {
		note.SpendTx = sig
	}
	return w.save(note)
}

// recordSpendTx keeps the signature of an unconfirmed withdrawal so it can
// be checked later. The note is not spent yet.
func (w *Withdrawer) recordSpendTx(note *types.Note, sig string) error {
	note.SpendTx = sig
	return w.save(note)
}

func (w *Withdrawer) save(note *types.Note) error {
	if w.Store == nil {
		return nil
	}
	return w.Store.Put(note)
}

func (w *Withdrawer) fail(res *WithdrawResult, err error) (*WithdrawResult, error) {
	res.Outcome = OutcomeFailed
	res.Err = err
	return res, err
}
