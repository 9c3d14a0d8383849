package core

import (
	"errors"
	"strings"
	"time"
)

// DefaultAlertThreshold is the spent/limit ratio at which a category alert fires.
const DefaultAlertThreshold = 0.8

type (
	CategoryLimit struct {
		Limit          Money
		Spent          Money
		AlertThreshold float64 // 0..1
	}

	// Budget is the per-owner, per-period aggregate. TotalSpent is maintained
	// incrementally and only recomputed by reconciliation.
	Budget struct {
		OwnerID        string
		Period         PeriodKey
		TotalLimit     Money // zero means unset
		TotalSpent     Money
		CategoryLimits map[Category]CategoryLimit
		AlertsEnabled  bool
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	Goal struct {
		ID        string
		OwnerID   string
		Name      string
		Target    Money
		Saved     Money
		Deadline  time.Time // optional
		CreatedAt time.Time
	}

	// AuditEntry describes one ledger mutation.
	AuditEntry struct {
		ID        string
		OwnerID   string
		Action    string
		Entity    string
		EntityID  string
		Details   map[string]any
		CreatedAt time.Time
	}

	// Subscription is a detected recurring charge.
	Subscription struct {
		ID            string
		OwnerID       string
		MerchantName  string
		Amount        Money
		FirstSeen     time.Time
		LastSeen      time.Time
		Occurrences   int
		SourceExpense string
	}
)

// Limit returns the total limit, or nil when none is set.
func (b Budget) Limit() *Money {
	if b.TotalLimit.Cents <= 0 {
		return nil
	}
	l := b.TotalLimit
	return &l
}

// Remaining returns limit minus spent; nil when no limit is set.
func (b Budget) Remaining() *Money {
	l := b.Limit()
	if l == nil {
		return nil
	}
	r := l.Sub(b.TotalSpent)
	return &r
}

// NeedsReconcile reports the drift signature that triggers a resummation:
// a limit is set but nothing is counted as spent.
func (b Budget) NeedsReconcile() bool {
	return b.TotalLimit.Cents > 0 && b.TotalSpent.Cents == 0
}

// UsedRatio returns spent/limit, or 0 when the limit is unset.
func (l CategoryLimit) UsedRatio() float64 {
	if l.Limit.Cents <= 0 {
		return 0
	}
	return float64(l.Spent.Cents) / float64(l.Limit.Cents)
}

func (l CategoryLimit) Validate() error {
	if l.Limit.Cents < 0 {
		return ErrInvalidAmount
	}
	if l.AlertThreshold < 0 || l.AlertThreshold > 1 {
		return errors.New("alert threshold must be between 0 and 1")
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("empty goal name")
	}
	if err := g.Target.Validate(); err != nil {
		return err
	}
	if g.Saved.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Progress returns saved/target as a percentage capped at 100.
func (g Goal) Progress() float64 {
	if g.Target.Cents <= 0 {
		return 0
	}
	p := float64(g.Saved.Cents) / float64(g.Target.Cents) * 100
	if p > 100 {
		p = 100
	}
	return p
}
