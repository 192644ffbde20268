package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Daironode/aingle-sub000/internal/keys"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// Config wires a pipeline. Store is required; a nil App accepts everything
// and a nil Network disables publishing, fetching and receipts.
type Config struct {
	Store   *store.Store
	Network Network
	App     AppValidation
	Signer  keys.Signer
	Options Options
}

// maxIdleRounds bounds how many consecutive Drain rounds may run stage
// passes without any of them changing an op, so stages that keep
// re-triggering each other fail loudly instead of spinning. A round that
// only admits fetched ops counts as idle; the next one validates them.
const maxIdleRounds = 8

// Pipeline owns the stages and their triggers.
//
// Thread-safety model:
//   - each stage pass runs serially with respect to itself
//   - different stages run concurrently under Run
//   - Trigger.Signal and Ingest are safe from any goroutine
type Pipeline struct {
	opts Options

	ingest  *Ingestor
	sys     *SysValidator
	app     *AppValidator
	integ   *Integrator
	receipt *ReceiptSender

	sysT, appT, integT, receiptT *Trigger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	opts := cfg.Options.withDefaults()
	app := cfg.App
	if app == nil {
		app = AcceptAll
	}

	p := &Pipeline{
		opts:     opts,
		sysT:     NewTrigger(),
		appT:     NewTrigger(),
		integT:   NewTrigger(),
		receiptT: NewTrigger(),
	}
	p.ingest = &Ingestor{store: cfg.Store, network: cfg.Network, sys: p.sysT, opts: opts}
	p.sys = &SysValidator{
		store:   cfg.Store,
		ingest:  p.ingest,
		network: cfg.Network,
		app:     p.appT,
		integ:   p.integT,
		self:    p.sysT,
		opts:    opts,
	}
	p.app = &AppValidator{
		store:   cfg.Store,
		app:     app,
		ingest:  p.ingest,
		network: cfg.Network,
		integ:   p.integT,
		opts:    opts,
	}
	p.integ = &Integrator{store: cfg.Store, sys: p.sysT, receipt: p.receiptT, opts: opts}
	p.receipt = &ReceiptSender{store: cfg.Store, network: cfg.Network, signer: cfg.Signer, opts: opts}
	return p
}

// Ingestor returns the ingestion stage.
func (p *Pipeline) Ingestor() *Ingestor { return p.ingest }

// SysValidator returns the system validation stage.
func (p *Pipeline) SysValidator() *SysValidator { return p.sys }

// AppValidator returns the app validation stage.
func (p *Pipeline) AppValidator() *AppValidator { return p.app }

// Integrator returns the integration stage.
func (p *Pipeline) Integrator() *Integrator { return p.integ }

// ReceiptSender returns the receipt stage.
func (p *Pipeline) ReceiptSender() *ReceiptSender { return p.receipt }

// Kick signals every stage, e.g. after a restart when limbo is non-empty.
func (p *Pipeline) Kick() {
	p.sysT.Signal()
	p.appT.Signal()
	p.integT.Signal()
	p.receiptT.Signal()
}

type stageLoop struct {
	name    string
	trigger *Trigger
	run     func(context.Context) (int, error)
}

func (p *Pipeline) loops() []stageLoop {
	return []stageLoop{
		{"sys", p.sysT, p.sys.RunOnce},
		{"app", p.appT, p.app.RunOnce},
		{"integrate", p.integT, p.integ.RunOnce},
		{"receipt", p.receiptT, p.receipt.RunOnce},
	}
}

// Run runs every stage loop until ctx is cancelled. Each loop sleeps on its
// trigger and runs one pass per wake-up.
//
// A failed pass is logged and the stage waits for its next trigger; only an
// invariant violation stops the pipeline. Returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Kick()
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range p.loops() {
		l := l
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-l.trigger.Wait():
				}
				if _, err := l.run(ctx); err != nil {
					if IsInvariant(err) {
						p.opts.Logger.Error("stage stopped on invariant violation", "stage", l.name, "error", err)
						return err
					}
					p.opts.Logger.Error("stage pass failed", "stage", l.name, "error", err)
				}
			}
		})
	}
	return g.Wait()
}

// Drain runs stage passes on the calling goroutine until no trigger is
// pending. There is no fixed round limit: Drain keeps going while passes
// make progress and fails only after maxIdleRounds rounds in a row ran
// without changing anything. Any pass error is returned.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.Kick()
	loops := p.loops()
	for idle := 0; idle < maxIdleRounds; {
		ran, changed := false, 0
		for _, l := range loops {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !l.trigger.take() {
				continue
			}
			ran = true
			n, err := l.run(ctx)
			if err != nil {
				return err
			}
			changed += n
		}
		if !ran {
			return nil
		}
		if changed > 0 {
			idle = 0
		} else {
			idle++
		}
	}
	return fmt.Errorf("pipeline did not settle: %d rounds in a row made no progress", maxIdleRounds)
}
