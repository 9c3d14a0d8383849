package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger/internal/anomaly"
	"ledger/internal/cache"
	"ledger/internal/classify"
	"ledger/internal/core"
	"ledger/internal/duplicate"
	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/ports"
	"ledger/internal/rewards"
)

// Side-effect task names.
const (
	TaskEmit      = "emit"
	TaskRewards   = "rewards"
	TaskAnomaly   = "anomaly"
	TaskInsights  = "insights"
	TaskRecurring = "recurring"
	TaskAudit     = "audit"
	TaskBudget    = "budget"
)

const (
	budgetCacheTTL = 30 * time.Second
	entityExpense  = "expense"
	entityBudget   = "budget"
)

// ErrAggregate marks a budget aggregate that could be neither incremented
// nor reconciled. The record write it accompanies did succeed.
var ErrAggregate = errors.New("budget aggregate update failed")

// Deps wires the ledger. Only Store and Bus are required; a nil collaborator
// skips its side effect.
type Deps struct {
	Store      ports.Store
	Bus        *events.Bus
	Cache      *cache.Store
	Reconciler *Reconciler
	Duplicates *duplicate.Detector
	Anomalies  *anomaly.Detector
	Classifier *classify.Classifier
	Rewards    ports.Gamification
	Notifier   ports.Notifier
	Insights   ports.InsightsEngine
	Recurring  ports.RecurringDetector
	Audit      ports.AuditLog
	Logger     *log.Logger

	DefaultCurrency string
	Now             func() time.Time
}

// LedgerService orchestrates expense mutations: validation, persistence,
// the budget aggregate, and the side effects fanned out to collaborators.
type LedgerService struct {
	d      Deps
	logger *log.Logger
}

// CreateResult is returned by Create. Duplicate and Anomaly are advisory.
type CreateResult struct {
	ID        string
	Expense   core.Expense
	Duplicate duplicate.Result
	Anomaly   *anomaly.Result
	Tasks     []TaskResult
}

func NewLedgerService(d Deps) *LedgerService {
	if d.Logger == nil {
		d.Logger = log.Discard()
	}
	if d.Cache == nil {
		d.Cache = cache.NewStore(cache.DefaultTTL)
	}
	if d.Bus == nil {
		d.Bus = events.NewBus(events.DefaultHistorySize, d.Logger)
	}
	if d.Reconciler == nil {
		d.Reconciler = NewReconciler(d.Store, d.Store, d.Bus, d.Logger)
	}
	if d.DefaultCurrency == "" {
		d.DefaultCurrency = "PLN"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &LedgerService{d: d, logger: d.Logger.WithComponent(log.ComponentLedger)}
}

func ownerScope(ownerID string) string { return ":" + ownerID + ":" }

func (s *LedgerService) invalidate(ctx context.Context, ownerID string) {
	n := s.d.Cache.Invalidate(ownerScope(ownerID))
	s.logger.DebugContext(ctx, "Invalidated cached views", log.FieldOwner, ownerID, "removed", n)
}

// normalize fills defaults and classifies the merchant when no category is given.
func (s *LedgerService) normalize(in core.ExpenseInput) core.ExpenseInput {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Merchant.Name = strings.TrimSpace(in.Merchant.Name)
	in.Merchant.Category = core.NormalizeCategory(string(in.Merchant.Category))
	if in.Merchant.Category == "" {
		in.Merchant.Category = s.classify(in.Merchant.Name)
	}
	if in.Currency == "" {
		in.Currency = s.d.DefaultCurrency
	}
	in.Currency = strings.ToUpper(in.Currency)
	if in.Metadata.Source == "" {
		in.Metadata.Source = core.SourceManual
	}
	in.Tags = core.NormalizeTags(in.Tags)
	if !in.Date.IsZero() {
		in.Date = in.Date.UTC()
	}
	return in
}

func (s *LedgerService) classify(merchant string) core.Category {
	if s.d.Classifier == nil || merchant == "" {
		return core.CategoryOther
	}
	return s.d.Classifier.Classify(merchant).Category
}

// Create validates and persists a new expense, then runs its side effects as
// one group. The returned error is non-nil only for invalid input, a failed
// record write, or an aggregate that could not be brought up to date; in the
// last case the result still carries the persisted record.
func (s *LedgerService) Create(ctx context.Context, in core.ExpenseInput) (CreateResult, error) {
	in = s.normalize(in)
	if err := in.Validate(); err != nil {
		return CreateResult{}, fmt.Errorf("invalid expense: %w", err)
	}

	e := core.Expense{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Merchant:  in.Merchant,
		Date:      in.Date,
		Items:     in.Items,
		Tags:      in.Tags,
		Notes:     in.Notes,
		Metadata:  in.Metadata,
		CreatedAt: s.d.Now().UTC(),
	}

	res := CreateResult{ID: e.ID, Expense: e, Duplicate: duplicate.Proceed}
	if s.d.Duplicates != nil {
		res.Duplicate = s.d.Duplicates.Check(ctx, in)
		if res.Duplicate.IsDuplicate {
			s.logger.InfoContext(ctx, "Possible duplicate recorded anyway",
				log.FieldOwner, e.OwnerID, "match_id", res.Duplicate.MatchID, "confidence", res.Duplicate.Confidence)
		}
	}
	if s.d.Anomalies != nil {
		history, err := s.d.Store.RecentExpenses(ctx, e.OwnerID, anomaly.HistoryLimit)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping anomaly check", log.FieldOwner, e.OwnerID, log.FieldError, err)
		} else if r := s.d.Anomalies.Detect(ctx, e, history); r.IsAnomaly {
			res.Anomaly = &r
		}
	}

	if err := s.d.Store.CreateExpense(ctx, e); err != nil {
		return CreateResult{}, fmt.Errorf("save expense: %w", err)
	}
	if s.d.Duplicates != nil {
		s.d.Duplicates.Remember(e)
	}

	fields := log.NewFields().WithExpense(e.ID, e.Amount.Cents, e.Merchant.Name, string(e.Merchant.Category)).
		WithOwner(e.OwnerID).WithPeriod(string(e.Period()))
	s.logger.InfoContext(ctx, "Expense recorded", fields.ToSlice()...)

	// side effects outlive a caller that gives up after the write
	sideCtx := context.WithoutCancel(ctx)
	res.Tasks = gather(sideCtx, s.logger, s.createTasks(e, res.Anomaly))

	var aggErr error
	if err := failed(res.Tasks, TaskBudget); err != nil {
		aggErr = s.repairAggregate(sideCtx, e.OwnerID, e.Period(), err)
	}

	s.invalidate(ctx, e.OwnerID)
	return res, aggErr
}

func (s *LedgerService) createTasks(e core.Expense, found *anomaly.Result) []task {
	tasks := []task{
		{TaskEmit, func(ctx context.Context) error {
			return s.d.Bus.Emit(ctx, events.ExpenseAdded{Expense: e})
		}},
		{TaskBudget, func(ctx context.Context) error {
			return s.increment(ctx, e.OwnerID, e.Period(), e.Merchant.Category, e.Amount)
		}},
	}
	if s.d.Rewards != nil {
		tasks = append(tasks, task{TaskRewards, func(ctx context.Context) error {
			action := rewardAction(e.Metadata.Source)
			r, err := s.d.Rewards.AwardXP(ctx, e.OwnerID, action)
			if err != nil {
				return fmt.Errorf("award xp: %w", err)
			}
			return s.d.Bus.Emit(ctx, events.PointsAwarded{OwnerID: e.OwnerID, Action: action, XP: r.XP, NewBadges: r.NewBadges})
		}})
	}
	if found != nil {
		tasks = append(tasks, task{TaskAnomaly, func(ctx context.Context) error {
			return s.d.Bus.Emit(ctx, events.AnomalyDetected{OwnerID: e.OwnerID, ExpenseID: e.ID, Result: *found})
		}})
	}
	if s.d.Insights != nil {
		tasks = append(tasks, task{TaskInsights, func(ctx context.Context) error {
			return s.dispatchInsights(ctx, e)
		}})
	}
	if s.d.Recurring != nil {
		tasks = append(tasks, task{TaskRecurring, func(ctx context.Context) error {
			r, err := s.d.Recurring.DetectAndCreate(ctx, e.OwnerID, e.Merchant.Name, e.Amount, e.ID, e.Date)
			if err != nil {
				return fmt.Errorf("detect recurring: %w", err)
			}
			if r.Subscription == nil {
				return nil
			}
			return s.d.Bus.Emit(ctx, events.SubscriptionDetected{Subscription: *r.Subscription, IsNew: r.IsNew})
		}})
	}
	if s.d.Audit != nil {
		tasks = append(tasks, task{TaskAudit, func(ctx context.Context) error {
			return s.d.Audit.LogAction(ctx, e.OwnerID, ports.AuditCreate, entityExpense, e.ID, map[string]any{
				"amount_cents": e.Amount.Cents,
				"merchant":     e.Merchant.Name,
				"category":     string(e.Merchant.Category),
				"period":       string(e.Period()),
			})
		}})
	}
	return tasks
}

func rewardAction(src core.Source) string {
	switch src {
	case core.SourceScan:
		return rewards.ActionScanReceipt
	case core.SourceImport:
		return rewards.ActionImport
	default:
		return rewards.ActionAddExpense
	}
}

func (s *LedgerService) dispatchInsights(ctx context.Context, e core.Expense) error {
	period := e.Period()
	periodExpenses, err := s.d.Store.ListExpenses(ctx, e.OwnerID, period.Range())
	if err != nil {
		return fmt.Errorf("list period expenses: %w", err)
	}
	var budget *core.Budget
	if b, err := s.d.Store.GetBudget(ctx, e.OwnerID, period); err == nil {
		budget = &b
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("read budget: %w", err)
	}
	if budget != nil && !budget.AlertsEnabled {
		budget = nil
	}

	insights, err := s.d.Insights.GenerateInsights(ctx, e, periodExpenses, budget)
	if err != nil {
		return fmt.Errorf("generate insights: %w", err)
	}
	if s.d.Notifier == nil {
		return nil
	}

	var errs []error
	for _, in := range insights {
		if !in.Priority.Notify() {
			continue
		}
		n := ports.Notification{Type: in.Type, Title: in.Title, Message: in.Message, ActionURL: "/budget/" + string(period)}
		if err := s.d.Notifier.Send(ctx, e.OwnerID, n); err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", in.Type, err))
			continue
		}
		if err := s.d.Bus.Emit(ctx, events.NotificationSent{
			OwnerID: e.OwnerID, Type: n.Type, Title: n.Title, Message: n.Message, ActionURL: n.ActionURL,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// increment applies one atomic delta and announces it.
func (s *LedgerService) increment(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, delta core.Money) error {
	if err := s.d.Store.IncrementSpent(ctx, ownerID, period, category, delta); err != nil {
		return err
	}
	if err := s.d.Bus.Emit(ctx, events.BudgetUpdated{OwnerID: ownerID, Period: period, Delta: delta}); err != nil {
		s.logger.WarnContext(ctx, "budget:updated handlers failed", log.FieldError, err)
	}
	return nil
}

// repairAggregate reconciles a period whose increment failed.
func (s *LedgerService) repairAggregate(ctx context.Context, ownerID string, period core.PeriodKey, cause error) error {
	s.logger.WarnContext(ctx, "Budget increment failed, reconciling period",
		log.FieldOwner, ownerID, log.FieldPeriod, string(period), log.FieldError, cause)
	if _, err := s.d.Reconciler.ReconcilePeriod(ctx, ownerID, period); err != nil && !errors.Is(err, core.ErrNotFound) {
		s.logger.LogError(ctx, "Budget aggregate left stale", err, log.OpReconcile,
			log.NewFields().WithOwner(ownerID).WithPeriod(string(period)))
		return fmt.Errorf("%w for %s: %w", ErrAggregate, period, errors.Join(cause, err))
	}
	return nil
}

// Update applies changes to an existing expense. The audit entry is written
// before the record; a change of amount, date or category moves the old
// contribution out of its period and the new one in.
func (s *LedgerService) Update(ctx context.Context, ownerID, id string, changes core.ExpenseChanges) (core.Expense, error) {
	before, err := s.d.Store.GetExpense(ctx, ownerID, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("load expense %s: %w", id, err)
	}
	if changes.IsEmpty() {
		return before, nil
	}

	after := changes.Apply(before)
	if changes.Merchant != nil {
		after.Merchant.Name = strings.TrimSpace(after.Merchant.Name)
		after.Merchant.Category = core.NormalizeCategory(string(after.Merchant.Category))
		if after.Merchant.Category == "" {
			after.Merchant.Category = s.classify(after.Merchant.Name)
		}
	}
	if changes.Currency != nil {
		after.Currency = strings.ToUpper(after.Currency)
	}
	if err := after.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("invalid expense: %w", err)
	}

	if s.d.Audit != nil {
		err := s.d.Audit.LogAction(ctx, ownerID, ports.AuditUpdate, entityExpense, id, map[string]any{
			"before_amount_cents": before.Amount.Cents,
			"after_amount_cents":  after.Amount.Cents,
			"before_period":       string(before.Period()),
			"after_period":        string(after.Period()),
			"before_category":     string(before.Merchant.Category),
			"after_category":      string(after.Merchant.Category),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "Audit entry not written", log.FieldExpenseID, id, log.FieldError, err)
		}
	}

	if err := s.d.Store.UpdateExpense(ctx, after); err != nil {
		return core.Expense{}, fmt.Errorf("update expense %s: %w", id, err)
	}

	var aggErr error
	moved := changes.TouchesAggregate() && (before.Amount != after.Amount ||
		before.Period() != after.Period() || before.Merchant.Category != after.Merchant.Category)
	if moved {
		aggErr = s.move(ctx, before, after)
	}

	if s.d.Duplicates != nil {
		s.d.Duplicates.Forget(ownerID)
	}
	if err := s.d.Bus.Emit(ctx, events.ExpenseUpdated{Before: before, After: after}); err != nil {
		s.logger.WarnContext(ctx, "expense:updated handlers failed", log.FieldError, err)
	}
	s.invalidate(ctx, ownerID)

	s.logger.InfoContext(ctx, "Expense updated",
		log.FieldOwner, ownerID, log.FieldExpenseID, id, "aggregate_moved", moved)
	return after, aggErr
}

// move reverses before's contribution and applies after's.
func (s *LedgerService) move(ctx context.Context, before, after core.Expense) error {
	var errs []error
	if err := s.increment(ctx, before.OwnerID, before.Period(), before.Merchant.Category, before.Amount.Neg()); err != nil {
		errs = append(errs, s.repairAggregate(ctx, before.OwnerID, before.Period(), err))
	}
	if err := s.increment(ctx, after.OwnerID, after.Period(), after.Merchant.Category, after.Amount); err != nil {
		errs = append(errs, s.repairAggregate(ctx, after.OwnerID, after.Period(), err))
	}
	return errors.Join(errs...)
}

// Delete removes an expense and reverses its contribution. Deleting a
// missing record is a no-op and reports false.
func (s *LedgerService) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	e, err := s.d.Store.GetExpense(ctx, ownerID, id)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load expense %s: %w", id, err)
	}

	if s.d.Audit != nil {
		err := s.d.Audit.LogAction(ctx, ownerID, ports.AuditDelete, entityExpense, id, map[string]any{
			"amount_cents": e.Amount.Cents,
			"merchant":     e.Merchant.Name,
			"period":       string(e.Period()),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "Audit entry not written", log.FieldExpenseID, id, log.FieldError, err)
		}
	}

	removed, err := s.d.Store.DeleteExpense(ctx, ownerID, id)
	if err != nil {
		return false, fmt.Errorf("delete expense %s: %w", id, err)
	}
	if !removed {
		// lost a race with another delete, which owns the reversal
		return false, nil
	}

	var aggErr error
	if err := s.increment(ctx, ownerID, e.Period(), e.Merchant.Category, e.Amount.Neg()); err != nil {
		aggErr = s.repairAggregate(ctx, ownerID, e.Period(), err)
	}

	if s.d.Duplicates != nil {
		s.d.Duplicates.Forget(ownerID)
	}
	if err := s.d.Bus.Emit(ctx, events.ExpenseDeleted{Expense: e}); err != nil {
		s.logger.WarnContext(ctx, "expense:deleted handlers failed", log.FieldError, err)
	}
	s.invalidate(ctx, ownerID)

	s.logger.InfoContext(ctx, "Expense deleted", log.FieldOwner, ownerID, log.FieldExpenseID, id)
	return true, aggErr
}

// Get returns one expense.
func (s *LedgerService) Get(ctx context.Context, ownerID, id string) (core.Expense, error) {
	return s.d.Store.GetExpense(ctx, ownerID, id)
}

func rangeKey(kind, ownerID string, p core.Period, rng core.DateRange) string {
	from, to := int64(0), int64(0)
	if !rng.From.IsZero() {
		from = rng.From.UnixMilli()
	}
	if !rng.To.IsZero() {
		to = rng.To.UnixMilli()
	}
	return fmt.Sprintf("%s:%s:%s:%d:%d", kind, ownerID, p, from, to)
}

// GetByPeriod returns the owner's expenses in the resolved range, oldest first.
func (s *LedgerService) GetByPeriod(ctx context.Context, ownerID string, p core.Period, custom *core.DateRange) ([]core.Expense, error) {
	rng, err := core.ResolveRange(p, s.d.Now(), custom)
	if err != nil {
		return nil, err
	}
	return s.expensesIn(ctx, ownerID, p, rng)
}

func (s *LedgerService) expensesIn(ctx context.Context, ownerID string, p core.Period, rng core.DateRange) ([]core.Expense, error) {
	key := rangeKey("expenses", ownerID, p, rng)
	return cache.GetOrLoad(s.d.Cache, key, 0, func() ([]core.Expense, error) {
		list, err := s.d.Store.ListExpenses(ctx, ownerID, rng)
		if err != nil {
			return nil, fmt.Errorf("list expenses: %w", err)
		}
		return list, nil
	})
}

// GetStats summarizes the owner's expenses in the resolved range.
func (s *LedgerService) GetStats(ctx context.Context, ownerID string, p core.Period, custom *core.DateRange) (core.Stats, error) {
	rng, err := core.ResolveRange(p, s.d.Now(), custom)
	if err != nil {
		return core.Stats{}, err
	}
	key := rangeKey("stats", ownerID, p, rng)
	return cache.GetOrLoad(s.d.Cache, key, 0, func() (core.Stats, error) {
		list, err := s.expensesIn(ctx, ownerID, p, rng)
		if err != nil {
			return core.Stats{}, err
		}
		return core.Summarize(list, p, rng), nil
	})
}

// GetBudget reads a period's budget. A missing budget, or one whose limit is
// set while nothing is counted as spent, is reconciled once per process.
func (s *LedgerService) GetBudget(ctx context.Context, ownerID string, period core.PeriodKey) (core.Budget, error) {
	if err := period.Validate(); err != nil {
		return core.Budget{}, err
	}
	key := fmt.Sprintf("budget:%s:%s", ownerID, period)
	return cache.GetOrLoad(s.d.Cache, key, budgetCacheTTL, func() (core.Budget, error) {
		b, err := s.d.Store.GetBudget(ctx, ownerID, period)
		missing := errors.Is(err, core.ErrNotFound)
		if err != nil && !missing {
			return core.Budget{}, fmt.Errorf("read budget: %w", err)
		}
		if !missing && !b.NeedsReconcile() {
			return b, nil
		}

		healed, ran, err := s.d.Reconciler.HealOnce(ctx, ownerID, period)
		switch {
		case !ran && missing:
			return core.Budget{}, fmt.Errorf("budget %s: %w", period, core.ErrNotFound)
		case !ran:
			return b, nil
		case err != nil && errors.Is(err, core.ErrNotFound):
			return core.Budget{}, err
		case err != nil:
			s.logger.WarnContext(ctx, "Budget self-heal failed", log.FieldOwner, ownerID, log.FieldPeriod, string(period), log.FieldError, err)
			if missing {
				return core.Budget{}, fmt.Errorf("budget %s: %w", period, core.ErrNotFound)
			}
			return b, nil
		}
		return healed, nil
	})
}

// SetBudgetLimit sets the period's total limit; zero clears it.
func (s *LedgerService) SetBudgetLimit(ctx context.Context, ownerID string, period core.PeriodKey, limit core.Money) error {
	if err := period.Validate(); err != nil {
		return err
	}
	if limit.Cents < 0 {
		return core.ErrInvalidAmount
	}
	if err := s.d.Store.SetTotalLimit(ctx, ownerID, period, limit); err != nil {
		return fmt.Errorf("set budget limit: %w", err)
	}
	s.afterBudgetEdit(ctx, ownerID, period, map[string]any{"total_limit_cents": limit.Cents})
	return nil
}

// SetCategoryLimit sets one category's limit and alert threshold, then
// reconciles so the category's spent reflects records already in the period.
func (s *LedgerService) SetCategoryLimit(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, limit core.Money, alertThreshold float64) error {
	if err := period.Validate(); err != nil {
		return err
	}
	category = core.NormalizeCategory(string(category))
	if err := category.Validate(); err != nil {
		return err
	}
	if alertThreshold == 0 {
		alertThreshold = core.DefaultAlertThreshold
	}
	cl := core.CategoryLimit{Limit: limit, AlertThreshold: alertThreshold}
	if err := cl.Validate(); err != nil {
		return err
	}
	if err := s.d.Store.SetCategoryLimit(ctx, ownerID, period, category, limit, alertThreshold); err != nil {
		return fmt.Errorf("set category limit: %w", err)
	}
	if _, err := s.d.Reconciler.ReconcilePeriod(ctx, ownerID, period); err != nil {
		s.logger.WarnContext(ctx, "Category spent not refreshed", log.FieldPeriod, string(period), log.FieldCategory, string(category), log.FieldError, err)
	}
	s.afterBudgetEdit(ctx, ownerID, period, map[string]any{
		"category":        string(category),
		"limit_cents":     limit.Cents,
		"alert_threshold": alertThreshold,
	})
	return nil
}

func (s *LedgerService) afterBudgetEdit(ctx context.Context, ownerID string, period core.PeriodKey, details map[string]any) {
	if s.d.Audit != nil {
		if err := s.d.Audit.LogAction(ctx, ownerID, ports.AuditUpdate, entityBudget, string(period), details); err != nil {
			s.logger.WarnContext(ctx, "Audit entry not written", log.FieldPeriod, string(period), log.FieldError, err)
		}
	}
	if s.d.Rewards != nil {
		if r, err := s.d.Rewards.AwardXP(ctx, ownerID, rewards.ActionSetBudget); err != nil {
			s.logger.WarnContext(ctx, "Reward not granted", log.FieldOwner, ownerID, log.FieldError, err)
		} else if err := s.d.Bus.Emit(ctx, events.PointsAwarded{OwnerID: ownerID, Action: rewards.ActionSetBudget, XP: r.XP, NewBadges: r.NewBadges}); err != nil {
			s.logger.WarnContext(ctx, "points:awarded handlers failed", log.FieldError, err)
		}
	}
	s.invalidate(ctx, ownerID)
}

// UpsertGoal creates or replaces a savings goal, assigning an id when empty.
func (s *LedgerService) UpsertGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.d.Now().UTC()
	}
	g.Name = strings.TrimSpace(g.Name)
	if err := g.Validate(); err != nil {
		return core.Goal{}, fmt.Errorf("invalid goal: %w", err)
	}
	if err := s.d.Store.UpsertGoal(ctx, g); err != nil {
		return core.Goal{}, fmt.Errorf("save goal: %w", err)
	}
	s.invalidate(ctx, g.OwnerID)
	return g, nil
}

func (s *LedgerService) ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error) {
	return s.d.Store.ListGoals(ctx, ownerID)
}
