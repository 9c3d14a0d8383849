// Package memory is an in-process implementation of the ledger store with
// the same semantics as the SQLite repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
)

type budgetKey struct {
	owner  string
	period core.PeriodKey
}

type Store struct {
	mu       sync.Mutex
	expenses map[string]core.Expense // by id
	budgets  map[budgetKey]*core.Budget
	goals    map[string]core.Goal
	subs     map[string]core.Subscription // owner + "|" + merchant key
	audit    []core.AuditEntry
	now      func() time.Time
}

func New() *Store {
	return &Store{
		expenses: make(map[string]core.Expense),
		budgets:  make(map[budgetKey]*core.Budget),
		goals:    make(map[string]core.Goal),
		subs:     make(map[string]core.Subscription),
		now:      time.Now,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateExpense(_ context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[e.ID]; ok {
		return fmt.Errorf("create expense: duplicate id %s", e.ID)
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) GetExpense(_ context.Context, ownerID, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.OwnerID != ownerID {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.expenses[e.ID]
	if !ok || old.OwnerID != e.OwnerID {
		return fmt.Errorf("update expense %s: %w", e.ID, core.ErrNotFound)
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, ownerID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.OwnerID != ownerID {
		return false, nil
	}
	delete(s.expenses, id)
	return true, nil
}

func (s *Store) ListExpenses(_ context.Context, ownerID string, rng core.DateRange) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.expenses {
		if e.OwnerID == ownerID && rng.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out, nil
}

func (s *Store) RecentExpenses(_ context.Context, ownerID string, limit int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.expenses {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[j], out[i]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func before(a, b core.Expense) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) SumByCategory(_ context.Context, ownerID string, period core.PeriodKey) (map[core.Category]core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rng := period.Range()
	out := make(map[core.Category]core.Money)
	for _, e := range s.expenses {
		if e.OwnerID == ownerID && rng.Contains(e.Date) {
			out[e.Merchant.Category] = out[e.Merchant.Category].Add(e.Amount)
		}
	}
	return out, nil
}

// budget returns the stored budget, creating a shell when absent. Callers hold mu.
func (s *Store) budget(ownerID string, period core.PeriodKey) *core.Budget {
	k := budgetKey{ownerID, period}
	b, ok := s.budgets[k]
	if !ok {
		now := s.now()
		b = &core.Budget{
			OwnerID:        ownerID,
			Period:         period,
			CategoryLimits: make(map[core.Category]core.CategoryLimit),
			AlertsEnabled:  true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.budgets[k] = b
	}
	return b
}

func (s *Store) IncrementSpent(_ context.Context, ownerID string, period core.PeriodKey, category core.Category, delta core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.budget(ownerID, period)
	b.TotalSpent = b.TotalSpent.Add(delta)
	if cl, ok := b.CategoryLimits[category]; ok {
		cl.Spent = cl.Spent.Add(delta)
		b.CategoryLimits[category] = cl
	}
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetBudget(_ context.Context, ownerID string, period core.PeriodKey) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[budgetKey{ownerID, period}]
	if !ok {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", period, core.ErrNotFound)
	}
	return copyBudget(b), nil
}

func copyBudget(b *core.Budget) core.Budget {
	out := *b
	out.CategoryLimits = make(map[core.Category]core.CategoryLimit, len(b.CategoryLimits))
	for k, v := range b.CategoryLimits {
		out.CategoryLimits[k] = v
	}
	return out
}

func (s *Store) SetTotalLimit(_ context.Context, ownerID string, period core.PeriodKey, limit core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.budget(ownerID, period)
	b.TotalLimit = limit
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetCategoryLimit(_ context.Context, ownerID string, period core.PeriodKey, category core.Category, limit core.Money, alertThreshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.budget(ownerID, period)
	cl := b.CategoryLimits[category]
	cl.Limit = limit
	cl.AlertThreshold = alertThreshold
	b.CategoryLimits[category] = cl
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetSpent(_ context.Context, ownerID string, period core.PeriodKey, total core.Money, byCategory map[core.Category]core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.budget(ownerID, period)
	b.TotalSpent = total
	for cat, cl := range b.CategoryLimits {
		cl.Spent = byCategory[cat]
		b.CategoryLimits[cat] = cl
	}
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListBudgets(_ context.Context, since core.PeriodKey) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Budget
	for k, b := range s.budgets {
		if k.period >= since {
			out = append(out, copyBudget(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].Period < out[j].Period
	})
	return out, nil
}

func (s *Store) UpsertGoal(_ context.Context, g core.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.goals[g.ID]; ok {
		if old.OwnerID != g.OwnerID {
			return fmt.Errorf("upsert goal %s: %w", g.ID, core.ErrNotFound)
		}
		g.CreatedAt = old.CreatedAt
	}
	s.goals[g.ID] = g
	return nil
}

func (s *Store) ListGoals(_ context.Context, ownerID string) ([]core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Goal
	for _, g := range s.goals {
		if g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func subKey(ownerID, merchant string) string {
	return ownerID + "|" + strings.Join(strings.Fields(strings.ToLower(merchant)), " ")
}

func (s *Store) FindSubscription(_ context.Context, ownerID, merchant string) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subKey(ownerID, merchant)]
	if !ok {
		return core.Subscription{}, fmt.Errorf("find subscription %q: %w", merchant, core.ErrNotFound)
	}
	return sub, nil
}

func (s *Store) SaveSubscription(_ context.Context, sub core.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey(sub.OwnerID, sub.MerchantName)
	if old, ok := s.subs[k]; ok {
		sub.ID = old.ID
		sub.FirstSeen = old.FirstSeen
		sub.SourceExpense = old.SourceExpense
	}
	s.subs[k] = sub
	return nil
}

// LogAction implements ports.AuditLog.
func (s *Store) LogAction(_ context.Context, ownerID, action, entity, entityID string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, core.AuditEntry{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Details:   details,
		CreatedAt: s.now(),
	})
	return nil
}

// ListAudit returns the owner's newest audit entries first.
func (s *Store) ListAudit(_ context.Context, ownerID string, limit int) ([]core.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].OwnerID != ownerID {
			continue
		}
		out = append(out, s.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
