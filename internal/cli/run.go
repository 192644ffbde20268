package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Daironode/aingle-sub000/internal/engine"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
	"github.com/Daironode/aingle-sub000/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	NodeOptions
	Drain    bool
	Ingest   string
	Receipts string

	// RunIDs allows overriding the pass id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunSummary is printed when a drained run finishes.
type RunSummary struct {
	Ingested int              `json:"ingested"`
	Receipts int              `json:"receipts"`
	Stages   map[string]int   `json:"stages"`
	Metrics  map[string]int64 `json:"metrics"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{NodeOptions: NodeOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the validation pipeline",
		Long: `Run the validation pipeline over the node's database.

Ops left in limbo by an earlier run are picked up where they stopped.
--ingest admits ops from a JSON file (a stream of op objects) as if they
had arrived from the network. --receipts stores validation receipts for
our own ops from a JSON stream of signed receipts; a validator counts once
per op. With --drain the node processes everything
it can, prints a summary and exits; otherwise it runs until interrupted.

Example:
  aingle run --db ./node.db
  aingle run --ingest ops.json --drain --format json
  aingle run --receipts receipts.json --drain`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "process until quiescent, then exit")
	cmd.Flags().StringVar(&opts.Ingest, "ingest", "", "JSON file of ops to admit before starting")
	cmd.Flags().StringVar(&opts.Receipts, "receipts", "", "JSON file of signed receipts to store before starting")

	return cmd
}

func runNode(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cmd.ErrOrStderr(), opts.Verbose, cfg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	signer, err := keys.LoadOrGenerate(cfg.KeyFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load key", err)
	}

	reader, shutdown := telemetry.InitMeterProvider()
	defer func() { _ = shutdown(context.Background()) }()
	metrics, err := telemetry.FromGlobal()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create metrics", err)
	}

	p := engine.New(engine.Config{
		Store:  st,
		Signer: signer,
		Options: engine.Options{
			MaxEntryBytes: cfg.Limits.MaxEntryBytes,
			MaxTagBytes:   cfg.Limits.MaxTagBytes,
			FetchMissing:  cfg.FetchMissing,
			Logger:        logger,
			Metrics:       metrics,
			RunIDs:        opts.RunIDs,
		},
	})

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	ingested := 0
	if opts.Ingest != "" {
		in, err := readOps(opts.Ingest)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read ops", err)
		}
		if ingested, err = p.Ingestor().Ingest(ctx, in); err != nil {
			return WrapExitError(ExitFailure, "ingest failed", err)
		}
		logger.Info("ops ingested", "file", opts.Ingest, "offered", len(in), "admitted", ingested)
	}

	received := 0
	if opts.Receipts != "" {
		rs, err := readReceipts(opts.Receipts)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read receipts", err)
		}
		if received, err = p.ReceiptSender().ReceiveReceipts(ctx, rs); err != nil {
			return WrapExitError(ExitFailure, "storing receipts failed", err)
		}
		logger.Info("receipts received", "file", opts.Receipts, "offered", len(rs), "stored", received)
	}

	if opts.Drain {
		if err := p.Drain(ctx); err != nil {
			return WrapExitError(ExitFailure, "pipeline error", err)
		}
		stages, err := st.StageCounts(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read stage counts", err)
		}
		snap, err := telemetry.Snapshot(ctx, reader)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read metrics", err)
		}
		summary := RunSummary{Ingested: ingested, Receipts: received, Stages: stages, Metrics: snap}
		return newFormatter(cmd, opts.RootOptions).Success(summary, summaryLines(summary)...)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("node starting", "db", cfg.Database, "agent", signer.AgentKey())
	fmt.Fprintln(cmd.OutOrStdout(), "Node started. Press Ctrl-C to stop.")

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "pipeline stopped", err)
	}

	logger.Info("node stopped gracefully")
	return nil
}

// readOps decodes a stream of JSON ops. Each becomes an incoming network op
// from its action's author.
func readOps(path string) ([]engine.IncomingOp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var in []engine.IncomingOp
	dec := json.NewDecoder(f)
	for {
		var op ir.Op
		err := dec.Decode(&op)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", len(in), err)
		}
		in = append(in, engine.IncomingOp{
			Op:     op,
			From:   op.Action.Action.Author,
			Origin: engine.OriginNetwork,
		})
	}
	return in, nil
}

func summaryLines(s RunSummary) []string {
	lines := []string{fmt.Sprintf("Ingested: %d", s.Ingested)}
	if s.Receipts > 0 {
		lines = append(lines, fmt.Sprintf("Receipts stored: %d", s.Receipts))
	}
	lines = append(lines, "Stages:")
	for _, k := range sortedKeys(s.Stages) {
		lines = append(lines, fmt.Sprintf("  %-36s %d", k, s.Stages[k]))
	}
	return lines
}

// readReceipts decodes a stream of JSON signed receipts.
func readReceipts(path string) ([]ir.SignedReceipt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []ir.SignedReceipt
	dec := json.NewDecoder(f)
	for {
		var r ir.SignedReceipt
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("receipt %d: %w", len(out), err)
		}
		out = append(out, r)
	}
	return out, nil
}
