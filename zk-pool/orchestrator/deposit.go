package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/kysee/zkpool/zk-pool/accounts"
	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/retry"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/witness"
	"github.com/rs/zerolog"
)

type StateReader interface {
	State(ctx context.Context) (*accounts.StateAccount, error)
}

type EventSource interface {
	GetTransactionLogs(ctx context.Context, sig string) ([]string, error)
}

type Depositor struct {
	Pool      *types.PoolConfig
	State     StateReader
	Events    EventSource
	Submitter Submitter
	Payer     types.Address
	Tracker   Confirmer
	Store     NoteStore
	Hasher    types.Hasher
	// Policy retries the event fetch. retry.EventPolicy fits congested endpoints.
	Policy   retry.Policy
	Progress Progress
	Logger   zerolog.Logger
}

// Deposit runs GeneratePayload, Submit, ParseEvent and FinalizeNote. The
// note is stored before anything is sent, so its secrets survive any later
// failure; the returned note is non-nil whenever it was stored.
func (d *Depositor) Deposit(ctx context.Context) (*types.Note, error) {
	if d.Store == nil {
		return nil, errors.New("deposit needs a note store")
	}
	h := d.Hasher
	if h == nil {
		h = types.DefaultHasher
	}
	note, err := types.NewNote(d.Pool.ID, h)
	if err != nil {
		return nil, err
	}
	report(ctx, d.Progress, note, StageGeneratePayload)

	state, err := d.State.State(ctx)
	if err != nil {
		return nil, err
	}
	ix, err := instruction.Deposit(d.Pool, note.Commitment, d.Payer, state.NextIndex)
	if err != nil {
		return nil, err
	}
	if err := d.Store.Put(note); err != nil {
		return nil, fmt.Errorf("store note before deposit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return note, err
	}

	report(ctx, d.Progress, note, StageSubmit)
	sig, err := d.Submitter.Submit(context.WithoutCancel(ctx), ix)
	if err != nil {
		return note, fmt.Errorf("submit deposit: %w", err)
	}
	note.DepositTx = sig
	if err := d.Store.Put(note); err != nil {
		return note, err
	}
	d.Logger.Info().Str("note", note.CommitmentHex()[:16]).Str("sig", sig).Msg("deposit submitted")

	return note, d.Finalize(ctx, note)
}

// Finalize fills in the leaf index, root and path of a submitted deposit
// from its on-chain event and marks the note confirmed. It also resumes
// deposits interrupted after submission.
func (d *Depositor) Finalize(ctx context.Context, note *types.Note) error {
	if note.DepositTx == "" {
		return errors.New("note has no deposit transaction")
	}
	if d.Tracker != nil {
		report(ctx, d.Progress, note, StageConfirm)
		if _, err := d.Tracker.Confirm(ctx, note.DepositTx); errors.Is(err, types.ErrTransactionFailed) {
			return err
		}
	}

	report(ctx, d.Progress, note, StageParseEvent)
	ev, err := d.parseEvent(ctx, note.DepositTx)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", note.DepositTx, err)
	}

	report(ctx, d.Progress, note, StageFinalizeNote)
	if err := applyEvent(note, ev, d.Pool.TreeDepth); err != nil {
		return err
	}
	note.Status = types.NoteConfirmed
	if err := d.Store.Put(note); err != nil {
		return err
	}
	d.Logger.Info().Str("note", note.CommitmentHex()[:16]).Uint64("leaf", note.LeafIndex).Msg("deposit finalized")
	return nil
}

func (d *Depositor) parseEvent(ctx context.Context, sig string) (*accounts.DepositEvent, error) {
	policy := d.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.EventPolicy()
	}
	policy.Classify = classifyEventFetch

	var ev *accounts.DepositEvent
	err := policy.Do(ctx, func(ctx context.Context) error {
		logs, err := d.Events.GetTransactionLogs(ctx, sig)
		if err != nil {
			return err
		}
		ev, err = accounts.FindDepositEvent(logs, d.Pool.TreeDepth)
		return err
	}, func(err error, wait time.Duration) {
		d.Logger.Debug().Err(err).Str("sig", sig).Dur("wait", wait).Msg("deposit event not available yet")
	})
	return ev, err
}

// classifyEventFetch retries a transaction the node has not indexed yet and
// an executor with every endpoint cooling.
func classifyEventFetch(err error) retry.Class {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		return retry.Transient
	case errors.Is(err, types.ErrAllEndpointsUnavailable):
		return retry.RateLimited
	}
	return retry.Classify(err)
}

func applyEvent(note *types.Note, ev *accounts.DepositEvent, depth int) error {
	root, err := field.FromFixedWidthBE(ev.Root)
	if err != nil {
		return fmt.Errorf("event root: %w", err)
	}
	leaf := uint64(ev.LeafIndex)
	if !bytes.Equal(ev.Bits, witness.PathBits(leaf, depth)) {
		return fmt.Errorf("event path bits do not match leaf index %d", leaf)
	}
	path := make([]*big.Int, len(ev.Siblings))
	for i, s := range ev.Siblings {
		path[i] = new(big.Int).SetBytes(s[:])
	}
	note.LeafIndex = leaf
	note.Root = root
	note.Path = path
	return nil
}
