package events

import (
	"ledger/internal/anomaly"
	"ledger/internal/core"
)

// Kind is the closed set of event types the ledger emits.
type Kind string

const (
	KindExpenseAdded         Kind = "expense:added"
	KindExpenseUpdated       Kind = "expense:updated"
	KindExpenseDeleted       Kind = "expense:deleted"
	KindPointsAwarded        Kind = "points:awarded"
	KindAnomalyDetected      Kind = "ai:anomaly_detected"
	KindBudgetUpdated        Kind = "budget:updated"
	KindBudgetReconciled     Kind = "budget:reconciled"
	KindSubscriptionDetected Kind = "subscription:detected"
	KindNotificationSent     Kind = "notification:sent"
)

// Kinds lists every event kind.
func Kinds() []Kind {
	return []Kind{
		KindExpenseAdded, KindExpenseUpdated, KindExpenseDeleted, KindPointsAwarded,
		KindAnomalyDetected, KindBudgetUpdated, KindBudgetReconciled,
		KindSubscriptionDetected, KindNotificationSent,
	}
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	Kind() Kind
	Owner() string
	sealed()
}

type (
	ExpenseAdded struct {
		Expense core.Expense
	}

	ExpenseUpdated struct {
		Before core.Expense
		After  core.Expense
	}

	ExpenseDeleted struct {
		Expense core.Expense
	}

	PointsAwarded struct {
		OwnerID   string
		Action    string
		XP        int
		NewBadges []string
	}

	AnomalyDetected struct {
		OwnerID   string
		ExpenseID string
		Result    anomaly.Result
	}

	// BudgetUpdated is emitted after every successful aggregate increment.
	BudgetUpdated struct {
		OwnerID string
		Period  core.PeriodKey
		Delta   core.Money
	}

	BudgetReconciled struct {
		OwnerID  string
		Period   core.PeriodKey
		Previous core.Money
		Total    core.Money
	}

	SubscriptionDetected struct {
		Subscription core.Subscription
		IsNew        bool
	}

	NotificationSent struct {
		OwnerID   string
		Type      string
		Title     string
		Message   string
		ActionURL string
	}
)

func (ExpenseAdded) Kind() Kind         { return KindExpenseAdded }
func (ExpenseUpdated) Kind() Kind       { return KindExpenseUpdated }
func (ExpenseDeleted) Kind() Kind       { return KindExpenseDeleted }
func (PointsAwarded) Kind() Kind        { return KindPointsAwarded }
func (AnomalyDetected) Kind() Kind      { return KindAnomalyDetected }
func (BudgetUpdated) Kind() Kind        { return KindBudgetUpdated }
func (BudgetReconciled) Kind() Kind     { return KindBudgetReconciled }
func (SubscriptionDetected) Kind() Kind { return KindSubscriptionDetected }
func (NotificationSent) Kind() Kind     { return KindNotificationSent }

func (p ExpenseAdded) Owner() string         { return p.Expense.OwnerID }
func (p ExpenseUpdated) Owner() string       { return p.After.OwnerID }
func (p ExpenseDeleted) Owner() string       { return p.Expense.OwnerID }
func (p PointsAwarded) Owner() string        { return p.OwnerID }
func (p AnomalyDetected) Owner() string      { return p.OwnerID }
func (p BudgetUpdated) Owner() string        { return p.OwnerID }
func (p BudgetReconciled) Owner() string     { return p.OwnerID }
func (p SubscriptionDetected) Owner() string { return p.Subscription.OwnerID }
func (p NotificationSent) Owner() string     { return p.OwnerID }

func (ExpenseAdded) sealed()         {}
func (ExpenseUpdated) sealed()       {}
func (ExpenseDeleted) sealed()       {}
func (PointsAwarded) sealed()        {}
func (AnomalyDetected) sealed()      {}
func (BudgetUpdated) sealed()        {}
func (BudgetReconciled) sealed()     {}
func (SubscriptionDetected) sealed() {}
func (NotificationSent) sealed()     {}
