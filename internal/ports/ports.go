package ports

import (
	"context"
	"time"

	"ledger/internal/core"
)

// Storage ports. Implementations return core.ErrNotFound for missing rows.
type (
	ExpenseStore interface {
		CreateExpense(ctx context.Context, e core.Expense) error
		GetExpense(ctx context.Context, ownerID, id string) (core.Expense, error)
		UpdateExpense(ctx context.Context, e core.Expense) error
		// DeleteExpense reports whether a row was removed.
		DeleteExpense(ctx context.Context, ownerID, id string) (bool, error)
		// ListExpenses returns the owner's records in rng, oldest first.
		ListExpenses(ctx context.Context, ownerID string, rng core.DateRange) ([]core.Expense, error)
		// RecentExpenses returns up to limit records, newest first.
		RecentExpenses(ctx context.Context, ownerID string, limit int) ([]core.Expense, error)
	}

	// BudgetStore maintains the per-period aggregate. IncrementSpent must be
	// a single atomic upsert: it creates the budget shell when missing and
	// never reads the current total first.
	BudgetStore interface {
		IncrementSpent(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, delta core.Money) error
		GetBudget(ctx context.Context, ownerID string, period core.PeriodKey) (core.Budget, error)
		SetTotalLimit(ctx context.Context, ownerID string, period core.PeriodKey, limit core.Money) error
		SetCategoryLimit(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, limit core.Money, alertThreshold float64) error
		// SetSpent overwrites the totals; used only by reconciliation.
		SetSpent(ctx context.Context, ownerID string, period core.PeriodKey, total core.Money, byCategory map[core.Category]core.Money) error
		// ListBudgets returns every budget with period >= since, across owners.
		ListBudgets(ctx context.Context, since core.PeriodKey) ([]core.Budget, error)
	}

	GoalStore interface {
		UpsertGoal(ctx context.Context, g core.Goal) error
		ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error)
	}

	SubscriptionStore interface {
		FindSubscription(ctx context.Context, ownerID, merchant string) (core.Subscription, error)
		SaveSubscription(ctx context.Context, s core.Subscription) error
	}

	Store interface {
		ExpenseStore
		BudgetStore
		GoalStore
		SubscriptionStore
		Close() error
	}
)

// Collaborators invoked by the ledger as soft side effects.
type (
	Reward struct {
		XP        int
		NewBadges []string
	}

	Gamification interface {
		AwardXP(ctx context.Context, ownerID, action string) (Reward, error)
	}

	Notification struct {
		Type      string
		Title     string
		Message   string
		ActionURL string
	}

	// Notifier is fire-and-forget from the ledger's point of view.
	Notifier interface {
		Send(ctx context.Context, ownerID string, n Notification) error
	}

	Insight struct {
		Type     string
		Priority Priority
		Title    string
		Message  string
	}

	InsightsEngine interface {
		GenerateInsights(ctx context.Context, e core.Expense, periodExpenses []core.Expense, budget *core.Budget) ([]Insight, error)
	}

	RecurringResult struct {
		IsNew        bool
		Subscription *core.Subscription
	}

	RecurringDetector interface {
		DetectAndCreate(ctx context.Context, ownerID, merchant string, amount core.Money, sourceID string, at time.Time) (RecurringResult, error)
	}

	// AuditLog is append-only and best-effort.
	AuditLog interface {
		LogAction(ctx context.Context, ownerID, action, entity, entityID string, details map[string]any) error
	}
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notify reports whether an insight of this priority is pushed to the owner.
func (p Priority) Notify() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Audit actions.
const (
	AuditCreate = "create"
	AuditUpdate = "update"
	AuditDelete = "delete"
)
