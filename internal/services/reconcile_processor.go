package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// ReconcileProcessorConfig holds configuration for the reconcile processor
type ReconcileProcessorConfig struct {
	// Interval is how often every recent budget is resummed (default: 1h)
	Interval time.Duration

	// LookbackMonths is how many periods before the current one are included (default: 2)
	LookbackMonths int
}

// DefaultReconcileProcessorConfig returns sensible defaults
func DefaultReconcileProcessorConfig() ReconcileProcessorConfig {
	return ReconcileProcessorConfig{
		Interval:       time.Hour,
		LookbackMonths: 2,
	}
}

// ReconcileStats summarizes one pass.
type ReconcileStats struct {
	Budgets  int
	Drifted  int
	Failed   int
	Duration time.Duration
}

// ReconcileProcessor periodically rewrites recent budget aggregates from
// their records, catching any drift the write path left behind.
type ReconcileProcessor struct {
	budgets    ports.BudgetStore
	reconciler *Reconciler
	config     ReconcileProcessorConfig
	logger     *log.Logger
	now        func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReconcileProcessor creates a new reconcile processor
func NewReconcileProcessor(budgets ports.BudgetStore, reconciler *Reconciler, config ReconcileProcessorConfig, logger *log.Logger) *ReconcileProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileProcessorConfig().Interval
	}
	if config.LookbackMonths < 0 {
		config.LookbackMonths = 0
	}
	return &ReconcileProcessor{
		budgets:    budgets,
		reconciler: reconciler,
		config:     config,
		logger:     logger.WithComponent(log.ComponentWorker),
		now:        time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ReconcileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	if p.doneCh != nil {
		select {
		case <-p.doneCh:
		default:
			p.mu.Unlock()
			return fmt.Errorf("reconcile processor is still stopping")
		}
	}
	p.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	p.stopCh, p.doneCh = stop, done
	p.mu.Unlock()

	go p.runLoop(ctx, stop, done)

	p.logger.InfoContext(ctx, "Reconcile processor started",
		"interval", p.config.Interval,
		"lookback_months", p.config.LookbackMonths)

	return nil
}

// Stop gracefully stops the processor and waits for completion. It is safe
// to call more than once and from several goroutines.
func (p *ReconcileProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	done := p.doneCh
	if p.running {
		p.running = false
		close(p.stopCh)
	}
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		p.logger.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Reconcile processor stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *ReconcileProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReconcileProcessor) runLoop(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		// a cancelled ctx ends the loop without Stop; allow a later Start
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.doneCh == done {
			p.running = false
		}
		close(done)
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Reconcile immediately on startup
	p.RunOnce(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

func (p *ReconcileProcessor) stopping() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCh
}

// RunOnce reconciles every budget from the lookback window up to now.
func (p *ReconcileProcessor) RunOnce(ctx context.Context) ReconcileStats {
	start := time.Now()
	var st ReconcileStats

	since := core.PeriodKeyFor(p.now())
	for range p.config.LookbackMonths {
		since = since.Previous()
	}

	budgets, err := p.budgets.ListBudgets(ctx, since)
	if err != nil {
		p.logger.LogError(ctx, "Failed to list budgets", err, log.OpList, log.NewFields().WithPeriod(string(since)))
		return st
	}

	stop := p.stopping()
	for _, b := range budgets {
		select {
		case <-stop:
			return st
		case <-ctx.Done():
			return st
		default:
		}

		st.Budgets++
		after, err := p.reconciler.ReconcilePeriod(ctx, b.OwnerID, b.Period)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			st.Failed++
			p.logger.WarnContext(ctx, "Reconcile failed",
				log.FieldOwner, b.OwnerID, log.FieldPeriod, string(b.Period), log.FieldError, err)
			continue
		}
		if after.TotalSpent != b.TotalSpent {
			st.Drifted++
		}
	}

	st.Duration = time.Since(start)
	if st.Budgets > 0 {
		p.logger.InfoContext(ctx, "Reconcile pass finished",
			"budgets", st.Budgets,
			"drifted", st.Drifted,
			"failed", st.Failed,
			log.FieldDuration, st.Duration.Milliseconds())
	}
	return st
}
