package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/orchestrator"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	passphrase string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "zkpool",
		Short:         "Deposit into and withdraw from a fixed-denomination shielded pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "zkpool.yaml", "path to the yaml config")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", os.Getenv("ZKPOOL_PASSPHRASE"), "note store passphrase")

	rootCmd.AddCommand(
		depositCmd(),
		withdrawCmd(),
		withdrawBatchCmd(),
		checkRootCmd(),
		healthCmd(),
		notesCmd(),
		serveMetricsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run loads the config, builds the app and hands it to f.
func run(f func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, passphrase)
		if err != nil {
			return err
		}
		defer a.Close()
		return f(cmd.Context(), a)
	}
}

func depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit",
		Short: "Create a note and deposit it into the pool",
		RunE: run(func(ctx context.Context, a *app) error {
			d, err := a.depositor()
			if err != nil {
				return err
			}
			note, err := d.Deposit(ctx)
			if note != nil {
				fmt.Printf("commitment %s\n", note.CommitmentHex())
			}
			if err != nil {
				return err
			}
			fmt.Printf("leaf %d, deposit tx %s\n", note.LeafIndex, note.DepositTx)
			return nil
		}),
	}
}

func withdrawCmd() *cobra.Command {
	var (
		commitment string
		recipient  string
		fee        uint64
		useRelay   bool
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw one note to a recipient",
		RunE: run(func(ctx context.Context, a *app) error {
			note, err := findNote(a, commitment)
			if err != nil {
				return err
			}
			to, err := types.ParseAddress(recipient)
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			req := orchestrator.WithdrawRequest{Note: note, Recipient: to, Fee: fee}
			if fee > 0 && a.key != nil {
				req.FeeReceiver = a.key.Address()
			}
			w, err := a.withdrawer(ctx, useRelay, &req)
			if err != nil {
				return err
			}
			res, err := w.Withdraw(ctx, req)
			printResult(res)
			return err
		}),
	}
	cmd.Flags().StringVar(&commitment, "commitment", "", "hex commitment of the note to spend")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "fee paid to the fee receiver, in base units")
	cmd.Flags().BoolVar(&useRelay, "relay", false, "submit through the configured relayer")
	_ = cmd.MarkFlagRequired("commitment")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func withdrawBatchCmd() *cobra.Command {
	var (
		recipient string
		useRelay  bool
	)
	cmd := &cobra.Command{
		Use:   "withdraw-batch",
		Short: "Withdraw every confirmed note to one recipient",
		RunE: run(func(ctx context.Context, a *app) error {
			to, err := types.ParseAddress(recipient)
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			notes, err := a.store.List(types.NoteConfirmed)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Println("no confirmed notes")
				return nil
			}
			var tmpl orchestrator.WithdrawRequest
			w, err := a.withdrawer(ctx, useRelay, &tmpl)
			if err != nil {
				return err
			}
			reqs := make([]orchestrator.WithdrawRequest, len(notes))
			for i, n := range notes {
				reqs[i] = orchestrator.WithdrawRequest{Note: n, Recipient: to, FeeReceiver: tmpl.FeeReceiver, Fee: tmpl.Fee}
			}
			out := w.WithdrawBatch(ctx, reqs, orchestrator.BatchConfig{
				ProofDelay:         a.cfg.Batch.ProofDelay,
				ConfirmConcurrency: a.cfg.Confirm.Concurrency,
			})
			for _, res := range out.Items {
				printResult(res)
			}
			fmt.Printf("succeeded %d, pending %d, failed %d\n", out.Succeeded, out.Pending, out.Failed)
			if out.Failed > 0 {
				return fmt.Errorf("%d of %d withdrawals failed", out.Failed, len(reqs))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	cmd.Flags().BoolVar(&useRelay, "relay", false, "submit through the configured relayer")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func checkRootCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "check-root",
		Short: "Report whether the pool still accepts a Merkle root",
		RunE: run(func(ctx context.Context, a *app) error {
			r, err := parseRoot(root)
			if err != nil {
				return err
			}
			acc, err := a.oracle.IsAcceptedRoot(ctx, r)
			if err != nil {
				return err
			}
			if acc.Source == types.SourceShardedRing {
				fmt.Printf("accepted: %v (%s, shard %d)\n", acc.Found, acc.Source, acc.ShardIndex)
			} else {
				fmt.Printf("accepted: %v (%s)\n", acc.Found, acc.Source)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&root, "root", "", "root as 0x-prefixed hex or decimal")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func healthCmd() *cobra.Command {
	var commitment string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Estimate how many deposits remain before a note's root leaves the ring",
		RunE: run(func(ctx context.Context, a *app) error {
			note, err := findNote(a, commitment)
			if err != nil {
				return err
			}
			h, err := a.oracle.NoteHealth(ctx, note)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d deposits remaining (%.1f%%)\n", h.Status, h.DepositsRemaining, h.Percent)
			return nil
		}),
	}
	cmd.Flags().StringVar(&commitment, "commitment", "", "hex commitment of the note")
	_ = cmd.MarkFlagRequired("commitment")
	return cmd
}

func notesCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List stored notes",
		RunE: run(func(_ context.Context, a *app) error {
			var filter []types.NoteStatus
			if status != "" {
				filter = append(filter, types.NoteStatus(status))
			}
			notes, err := a.store.List(filter...)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COMMITMENT\tSTATUS\tLEAF\tCREATED")
			for _, n := range notes {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", n.CommitmentHex(), n.Status, n.LeafIndex, time.Unix(int64(n.CreatedAt), 0).Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "only notes with this status")
	return cmd
}

func serveMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve rpc executor metrics until interrupted",
		RunE: run(func(ctx context.Context, a *app) error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			a.logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}),
	}
}

func findNote(a *app, commitment string) (*types.Note, error) {
	c, err := parseRoot(commitment)
	if err != nil {
		return nil, fmt.Errorf("commitment: %w", err)
	}
	return a.store.Get(c)
}

// parseRoot accepts a field element as hex (with or without 0x) or decimal.
func parseRoot(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	hexForm := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	base := 10
	if len(hexForm) == 2*field.Size || hexForm != s {
		base = 16
	}
	v, ok := new(big.Int).SetString(hexForm, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a hex or decimal field element", s)
	}
	return v, nil
}

func printResult(res *orchestrator.WithdrawResult) {
	if res == nil {
		return
	}
	line := fmt.Sprintf("%s %s", short(res.Commitment), res.Outcome)
	if res.Signature != "" {
		line += " tx " + res.Signature
	}
	if res.Recovered {
		line += " (recovered path)"
	}
	if res.Err != nil {
		line += ": " + res.Err.Error()
	}
	fmt.Println(line)
}
