package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// CategorySummer is implemented by stores that can total a period per
// category without returning every record.
type CategorySummer interface {
	SumByCategory(ctx context.Context, ownerID string, period core.PeriodKey) (map[core.Category]core.Money, error)
}

// Reconciler rewrites a period's budget aggregate from its source records.
// Concurrent requests for the same (owner, period) share one resummation.
type Reconciler struct {
	expenses ports.ExpenseStore
	budgets  ports.BudgetStore
	bus      *events.Bus
	logger   *log.Logger

	flight singleflight.Group

	mu     sync.Mutex
	healed map[string]struct{}
}

func NewReconciler(expenses ports.ExpenseStore, budgets ports.BudgetStore, bus *events.Bus, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Reconciler{
		expenses: expenses,
		budgets:  budgets,
		bus:      bus,
		logger:   logger.WithComponent(log.ComponentReconcile),
		healed:   make(map[string]struct{}),
	}
}

func reconcileKey(ownerID string, period core.PeriodKey) string {
	return ownerID + "|" + string(period)
}

// ReconcilePeriod resums the period and overwrites the aggregate. A period
// with no budget and no records stays absent and yields core.ErrNotFound.
func (r *Reconciler) ReconcilePeriod(ctx context.Context, ownerID string, period core.PeriodKey) (core.Budget, error) {
	if err := period.Validate(); err != nil {
		return core.Budget{}, err
	}
	v, err, shared := r.flight.Do(reconcileKey(ownerID, period), func() (any, error) {
		return r.reconcile(ctx, ownerID, period)
	})
	if err != nil {
		return core.Budget{}, err
	}
	if shared {
		r.logger.DebugContext(ctx, "Joined in-flight reconciliation", log.FieldOwner, ownerID, log.FieldPeriod, string(period))
	}
	return v.(core.Budget), nil
}

func (r *Reconciler) reconcile(ctx context.Context, ownerID string, period core.PeriodKey) (core.Budget, error) {
	before, err := r.budgets.GetBudget(ctx, ownerID, period)
	missing := errors.Is(err, core.ErrNotFound)
	if err != nil && !missing {
		return core.Budget{}, fmt.Errorf("read budget: %w", err)
	}

	byCategory, err := r.sum(ctx, ownerID, period)
	if err != nil {
		return core.Budget{}, fmt.Errorf("resum %s: %w", period, err)
	}
	var total core.Money
	for _, m := range byCategory {
		total = total.Add(m)
	}

	if missing && total.IsZero() {
		return core.Budget{}, fmt.Errorf("reconcile %s: %w", period, core.ErrNotFound)
	}

	if err := r.budgets.SetSpent(ctx, ownerID, period, total, byCategory); err != nil {
		return core.Budget{}, fmt.Errorf("rewrite aggregate: %w", err)
	}
	after, err := r.budgets.GetBudget(ctx, ownerID, period)
	if err != nil {
		return core.Budget{}, fmt.Errorf("read reconciled budget: %w", err)
	}

	r.logger.InfoContext(ctx, "Budget aggregate reconciled",
		log.FieldOwner, ownerID,
		log.FieldPeriod, string(period),
		"previous_cents", before.TotalSpent.Cents,
		"total_cents", total.Cents)

	if r.bus != nil {
		if err := r.bus.Emit(ctx, events.BudgetReconciled{
			OwnerID: ownerID, Period: period, Previous: before.TotalSpent, Total: total,
		}); err != nil {
			r.logger.WarnContext(ctx, "budget:reconciled handlers failed", log.FieldError, err)
		}
	}
	return after, nil
}

func (r *Reconciler) sum(ctx context.Context, ownerID string, period core.PeriodKey) (map[core.Category]core.Money, error) {
	if s, ok := r.expenses.(CategorySummer); ok {
		return s.SumByCategory(ctx, ownerID, period)
	}
	list, err := r.expenses.ListExpenses(ctx, ownerID, period.Range())
	if err != nil {
		return nil, err
	}
	out := make(map[core.Category]core.Money)
	for _, e := range list {
		out[e.Merchant.Category] = out[e.Merchant.Category].Add(e.Amount)
	}
	return out, nil
}

// HealOnce reconciles the period at most once per process for drift noticed
// on read. It reports whether this call ran the reconciliation. A failed
// attempt releases the guard so a later read can retry.
func (r *Reconciler) HealOnce(ctx context.Context, ownerID string, period core.PeriodKey) (core.Budget, bool, error) {
	key := reconcileKey(ownerID, period)
	r.mu.Lock()
	if _, done := r.healed[key]; done {
		r.mu.Unlock()
		return core.Budget{}, false, nil
	}
	r.healed[key] = struct{}{}
	r.mu.Unlock()

	b, err := r.ReconcilePeriod(ctx, ownerID, period)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		r.mu.Lock()
		delete(r.healed, key)
		r.mu.Unlock()
	}
	return b, true, err
}
