package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/confirm"
	"github.com/kysee/zkpool/zk-pool/oracle"
	"github.com/kysee/zkpool/zk-pool/orchestrator"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/recovery"
	"github.com/kysee/zkpool/zk-pool/relay"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/wallet"
	"github.com/kysee/zkpool/zk-pool/witness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// app holds the components shared by every command.
type app struct {
	cfg      *Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	pool     *types.PoolConfig

	exec    *chain.Executor
	client  *chain.Client
	tracker *confirm.Tracker
	oracle  *oracle.Oracle
	store   *store.Store
	key     *wallet.Keypair
}

func newLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func newApp(cfg *Config, passphrase string) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.Log, os.Stderr),
		registry: prometheus.NewRegistry(),
		pool:     cfg.Pool.Config(),
	}
	a.registry.MustRegister(collectors.NewGoCollector())

	exec, err := chain.NewExecutor(cfg.ExecutorConfig(),
		chain.WithLogger(a.logger.With().Str("module", "rpc").Logger()),
		chain.WithMetrics(chain.NewMetrics(a.registry)))
	if err != nil {
		return nil, err
	}
	a.exec = exec
	a.client = chain.NewClient(exec, chain.CommitmentConfirmed)
	a.tracker = confirm.NewTracker(a.client, confirm.Config{
		Commitment:   cfg.Confirm.Commitment,
		PollInterval: cfg.Confirm.PollInterval,
		Timeout:      cfg.Confirm.Timeout,
		CacheTTL:     cfg.Confirm.CacheTTL,
		WebsocketURL: cfg.RPC.Websocket,
	}, confirm.WithLogger(a.logger.With().Str("module", "confirm").Logger()))
	a.oracle = oracle.New(a.client, a.pool, a.logger.With().Str("module", "oracle").Logger())

	if a.store, err = store.Open(cfg.Store.Path, passphrase); err != nil {
		exec.Close()
		return nil, err
	}
	if cfg.Wallet.Keypair != "" {
		if a.key, err = wallet.LoadKeypair(cfg.Wallet.Keypair); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	a.exec.Close()
}

func (a *app) walletSubmitter() (*wallet.Submitter, error) {
	if a.key == nil {
		return nil, errors.New("wallet.keypair is not configured")
	}
	return wallet.NewSubmitter(a.client, a.key), nil
}

// withdrawer wires a Withdrawer. With useRelay the relayer pays and signs,
// and its fee receiver and fee override the caller's.
func (a *app) withdrawer(ctx context.Context, useRelay bool, req *orchestrator.WithdrawRequest) (*orchestrator.Withdrawer, error) {
	svc := a.cfg.Services
	w := &orchestrator.Withdrawer{
		Pool:     a.pool,
		Oracle:   a.oracle,
		Witness:  witness.NewBuilder(a.pool.TreeDepth, nil),
		Prover:   prover.NewRemote(svc.Prover, svc.Timeout, a.logger.With().Str("module", "prover").Logger()),
		Tracker:  a.tracker,
		Store:    a.store,
		Progress: a.progress,
		Logger:   a.logger.With().Str("module", "withdraw").Logger(),
	}
	if svc.Recovery != "" {
		w.Recovery = recovery.NewClient(svc.Recovery, svc.Timeout, a.logger.With().Str("module", "recovery").Logger())
	}

	if !useRelay {
		sub, err := a.walletSubmitter()
		if err != nil {
			return nil, err
		}
		w.Submitter, w.Payer = sub, sub.Payer()
		return w, nil
	}
	if svc.Relay == "" {
		return nil, errors.New("services.relay is not configured")
	}
	rc := relay.NewClient(svc.Relay, svc.Timeout, a.logger.With().Str("module", "relay").Logger())
	info, err := rc.Info(ctx)
	if err != nil {
		return nil, err
	}
	w.Submitter, w.Payer = rc, info.FeeReceiver
	if req != nil {
		req.FeeReceiver, req.Fee = info.FeeReceiver, info.Fee
	}
	return w, nil
}

func (a *app) depositor() (*orchestrator.Depositor, error) {
	sub, err := a.walletSubmitter()
	if err != nil {
		return nil, err
	}
	return &orchestrator.Depositor{
		Pool:      a.pool,
		State:     a.oracle,
		Events:    a.client,
		Submitter: sub,
		Payer:     sub.Payer(),
		Tracker:   a.tracker,
		Store:     a.store,
		Progress:  a.progress,
		Logger:    a.logger.With().Str("module", "deposit").Logger(),
	}, nil
}

func (a *app) progress(commitment string, stage orchestrator.Stage) {
	a.logger.Debug().Str("note", short(commitment)).Str("stage", string(stage)).Msg("progress")
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
