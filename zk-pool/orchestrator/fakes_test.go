package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/accounts"
	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/confirm"
	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/recovery"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/witness"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDepth = 4

func testPool() *types.PoolConfig {
	return &types.PoolConfig{
		ID:              "pool-1",
		ProgramID:       types.Address{0xaa},
		State:           types.Address{0x01},
		Vault:           types.Address{0x02},
		VerificationKey: types.Address{0x03},
		Shards:          []types.Address{{0x10}, {0x11}, {0x12}, {0x13}},
		Denomination:    uint256.NewInt(1_000_000),
		RingCapacity:    2560,
		ShardCapacity:   640,
		TreeDepth:       testDepth,
	}
}

func testNote(t *testing.T, root int64) *types.Note {
	n, err := types.NewNote("pool-1", types.DefaultHasher)
	require.NoError(t, err)
	n.Status = types.NoteConfirmed
	n.LeafIndex = 3
	n.Root = big.NewInt(root)
	n.Path = []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)}
	return n
}

type fakeOracle struct {
	mu       sync.Mutex
	accepted map[string]types.RootAcceptance
}

func (o *fakeOracle) IsAcceptedRoot(_ context.Context, root *big.Int) (types.RootAcceptance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if acc, ok := o.accepted[root.String()]; ok {
		return acc, nil
	}
	return types.NotAccepted, nil
}

type fakeRecovery struct {
	calls int
}

func (r *fakeRecovery) FetchPath(_ context.Context, _ string, _ *big.Int) (*recovery.Path, error) {
	r.calls++
	return &recovery.Path{
		Root:      big.NewInt(555),
		Elements:  []*big.Int{big.NewInt(9), big.NewInt(8), big.NewInt(7), big.NewInt(6)},
		LeafIndex: 1300,
	}, nil
}

type fakeProver struct {
	failOn      func(w *witness.Witness) error
	inflight    int32
	maxInflight int32
	calls       int32
}

func (p *fakeProver) Prove(ctx context.Context, w *witness.Witness) (*prover.Result, error) {
	atomic.AddInt32(&p.calls, 1)
	n := atomic.AddInt32(&p.inflight, 1)
	defer atomic.AddInt32(&p.inflight, -1)
	for {
		m := atomic.LoadInt32(&p.maxInflight)
		if n <= m || atomic.CompareAndSwapInt32(&p.maxInflight, m, n) {
			break
		}
	}
	if p.failOn != nil {
		if err := p.failOn(w); err != nil {
			return nil, err
		}
	}
	time.Sleep(2 * time.Millisecond)
	return &prover.Result{
		Proof: field.Proof{
			A: field.G1{X: big.NewInt(1), Y: big.NewInt(2)},
			B: field.G2{X0: big.NewInt(3), X1: big.NewInt(4), Y0: big.NewInt(5), Y1: big.NewInt(6)},
			C: field.G1{X: big.NewInt(7), Y: big.NewInt(8)},
		},
		PublicSignals: w.PublicInputs(),
	}, nil
}

// fakeSubmitter rejects a second instruction for the same nullifier hash.
type fakeSubmitter struct {
	mu       sync.Mutex
	spent    map[string]bool
	ixs      []*instruction.Instruction
	onSubmit func(ctx context.Context)
	err      error
}

func newSubmitter() *fakeSubmitter {
	return &fakeSubmitter{spent: make(map[string]bool)}
}

func (s *fakeSubmitter) Submit(ctx context.Context, ix *instruction.Instruction) (string, error) {
	if s.onSubmit != nil {
		s.onSubmit(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if len(ix.Data) == instruction.WithdrawDataSize {
		key := string(ix.Data[8:40])
		if s.spent[key] {
			return "", types.ErrDuplicateNullifier
		}
		s.spent[key] = true
	}
	s.ixs = append(s.ixs, ix)
	return fmt.Sprintf("tx-%d", len(s.ixs)), nil
}

func (s *fakeSubmitter) submitted() []*instruction.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*instruction.Instruction(nil), s.ixs...)
}

type fakeTracker struct {
	pending     bool
	failed      bool
	failSig     string
	spentSig    string
	delay       time.Duration
	inflight    int32
	maxInflight int32
}

func (f *fakeTracker) Confirm(ctx context.Context, sig string) (confirm.Result, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInflight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInflight, m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return confirm.Result{Signature: sig, Status: confirm.StatusPending}, err
	}
	switch {
	case sig == f.spentSig:
		return confirm.Result{Signature: sig}, fmt.Errorf("%s: %w: %w", sig, types.ErrTransactionFailed, types.ErrDuplicateNullifier)
	case f.failed, sig == f.failSig:
		return confirm.Result{Signature: sig}, fmt.Errorf("%s: %w", sig, types.ErrTransactionFailed)
	case f.pending:
		return confirm.Result{Signature: sig, Status: confirm.StatusPending}, nil
	}
	return confirm.Result{Signature: sig, Status: confirm.StatusFinalized, Slot: 1}, nil
}

type stageLog struct {
	mu     sync.Mutex
	stages []Stage
}

func (l *stageLog) progress(_ string, s Stage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, s)
}

func (l *stageLog) all() []Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Stage(nil), l.stages...)
}

type fixture struct {
	pool      *types.PoolConfig
	oracle    *fakeOracle
	recovery  *fakeRecovery
	prover    *fakeProver
	submitter *fakeSubmitter
	tracker   *fakeTracker
	store     *store.Store
	stages    *stageLog
	w         *Withdrawer
}

func newFixture(t *testing.T) *fixture {
	s, err := store.OpenMemory("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		pool:      testPool(),
		oracle:    &fakeOracle{accepted: make(map[string]types.RootAcceptance)},
		recovery:  &fakeRecovery{},
		prover:    &fakeProver{},
		submitter: newSubmitter(),
		tracker:   &fakeTracker{},
		store:     s,
		stages:    &stageLog{},
	}
	f.w = &Withdrawer{
		Pool:      f.pool,
		Oracle:    f.oracle,
		Recovery:  f.recovery,
		Witness:   witness.NewBuilder(testDepth, nil),
		Prover:    f.prover,
		Submitter: f.submitter,
		Payer:     types.Address{0x40},
		Tracker:   f.tracker,
		Store:     s,
		Progress:  f.stages.progress,
		Logger:    zerolog.Nop(),
	}
	return f
}

func (f *fixture) accept(root int64, acc types.RootAcceptance) {
	f.oracle.accepted[big.NewInt(root).String()] = acc
}

var inHistory = types.RootAcceptance{Found: true, Source: types.SourceStateHistory, ShardIndex: -1}

type fakeState struct {
	next uint64
	err  error
}

func (s *fakeState) State(context.Context) (*accounts.StateAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &accounts.StateAccount{NextIndex: s.next}, nil
}

// fakeEvents serves logs after notFound misses.
type fakeEvents struct {
	mu       sync.Mutex
	notFound int
	logs     []string
	calls    int
}

func (e *fakeEvents) GetTransactionLogs(_ context.Context, sig string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.notFound {
		return nil, fmt.Errorf("transaction %s: %w", sig, chain.ErrNotFound)
	}
	if e.logs == nil {
		return nil, errors.New("no logs configured")
	}
	return e.logs, nil
}
