package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row models.
type (
	Expense struct {
		ID              string
		OwnerID         string
		AmountCents     int64
		Currency        string
		MerchantName    string
		Category        string
		MerchantTaxID   string
		MerchantAddress string
		DateMs          int64
		ItemsJSON       string
		TagsJSON        string
		Notes           string
		Source          string
		Verified        bool
		Confidence      sql.NullFloat64
		CreatedAtMs     int64
	}

	Budget struct {
		OwnerID         string
		Period          string
		TotalLimitCents int64
		TotalSpentCents int64
		AlertsEnabled   bool
		CreatedAtMs     int64
		UpdatedAtMs     int64
	}

	BudgetCategory struct {
		Category       string
		LimitCents     int64
		SpentCents     int64
		AlertThreshold float64
	}

	Goal struct {
		ID          string
		OwnerID     string
		Name        string
		TargetCents int64
		SavedCents  int64
		DeadlineMs  sql.NullInt64
		CreatedAtMs int64
	}

	Subscription struct {
		ID            string
		OwnerID       string
		MerchantKey   string
		MerchantName  string
		AmountCents   int64
		FirstSeenMs   int64
		LastSeenMs    int64
		Occurrences   int64
		SourceExpense string
	}

	AuditRow struct {
		ID          string
		OwnerID     string
		Action      string
		Entity      string
		EntityID    string
		DetailsJSON string
		CreatedAtMs int64
	}
)

const expenseColumns = `id, owner_id, amount_cents, currency, merchant_name, category,
  merchant_tax_id, merchant_address, date_ms, items_json, tags_json, notes,
  source, verified, confidence, created_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (Expense, error) {
	var e Expense
	err := s.Scan(&e.ID, &e.OwnerID, &e.AmountCents, &e.Currency, &e.MerchantName, &e.Category,
		&e.MerchantTaxID, &e.MerchantAddress, &e.DateMs, &e.ItemsJSON, &e.TagsJSON, &e.Notes,
		&e.Source, &e.Verified, &e.Confidence, &e.CreatedAtMs)
	return e, err
}

func scanExpenses(rows *sql.Rows) ([]Expense, error) {
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const createExpense = `INSERT INTO expenses (` + expenseColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, e Expense) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		e.ID, e.OwnerID, e.AmountCents, e.Currency, e.MerchantName, e.Category,
		e.MerchantTaxID, e.MerchantAddress, e.DateMs, e.ItemsJSON, e.TagsJSON, e.Notes,
		e.Source, e.Verified, e.Confidence, e.CreatedAtMs)
	return err
}

const getExpense = `SELECT ` + expenseColumns + ` FROM expenses WHERE owner_id = ? AND id = ?`

func (q *Queries) GetExpense(ctx context.Context, ownerID, id string) (Expense, error) {
	return scanExpense(q.db.QueryRowContext(ctx, getExpense, ownerID, id))
}

const updateExpense = `UPDATE expenses SET
  amount_cents = ?, currency = ?, merchant_name = ?, category = ?, merchant_tax_id = ?,
  merchant_address = ?, date_ms = ?, items_json = ?, tags_json = ?, notes = ?, verified = ?
WHERE owner_id = ? AND id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, e Expense) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateExpense,
		e.AmountCents, e.Currency, e.MerchantName, e.Category, e.MerchantTaxID,
		e.MerchantAddress, e.DateMs, e.ItemsJSON, e.TagsJSON, e.Notes, e.Verified,
		e.OwnerID, e.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpense = `DELETE FROM expenses WHERE owner_id = ? AND id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, ownerID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, ownerID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listExpensesInRange = `SELECT ` + expenseColumns + ` FROM expenses
WHERE owner_id = ? AND date_ms >= ? AND date_ms < ?
ORDER BY date_ms ASC, created_at_ms ASC`

func (q *Queries) ListExpensesInRange(ctx context.Context, ownerID string, fromMs, toMs int64) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesInRange, ownerID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

const listRecentExpenses = `SELECT ` + expenseColumns + ` FROM expenses
WHERE owner_id = ?
ORDER BY date_ms DESC, created_at_ms DESC
LIMIT ?`

func (q *Queries) ListRecentExpenses(ctx context.Context, ownerID string, limit int64) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listRecentExpenses, ownerID, limit)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

const sumExpensesByCategory = `SELECT category, COALESCE(SUM(amount_cents), 0) FROM expenses
WHERE owner_id = ? AND date_ms >= ? AND date_ms < ?
GROUP BY category`

func (q *Queries) SumExpensesByCategory(ctx context.Context, ownerID string, fromMs, toMs int64) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, sumExpensesByCategory, ownerID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var cat string
		var sum int64
		if err := rows.Scan(&cat, &sum); err != nil {
			return nil, err
		}
		out[cat] = sum
	}
	return out, rows.Err()
}

// incrementBudgetSpent is the aggregate primitive: an upsert whose update
// branch adds to the stored total in place.
const incrementBudgetSpent = `INSERT INTO budgets (owner_id, period, total_spent_cents, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (owner_id, period) DO UPDATE SET
  total_spent_cents = total_spent_cents + excluded.total_spent_cents,
  updated_at_ms = excluded.updated_at_ms`

func (q *Queries) IncrementBudgetSpent(ctx context.Context, ownerID, period string, delta, nowMs int64) error {
	_, err := q.db.ExecContext(ctx, incrementBudgetSpent, ownerID, period, delta, nowMs, nowMs)
	return err
}

const incrementCategorySpent = `UPDATE budget_categories SET spent_cents = spent_cents + ?
WHERE owner_id = ? AND period = ? AND category = ?`

func (q *Queries) IncrementCategorySpent(ctx context.Context, ownerID, period, category string, delta int64) error {
	_, err := q.db.ExecContext(ctx, incrementCategorySpent, delta, ownerID, period, category)
	return err
}

const ensureBudget = `INSERT INTO budgets (owner_id, period, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (owner_id, period) DO NOTHING`

func (q *Queries) EnsureBudget(ctx context.Context, ownerID, period string, nowMs int64) error {
	_, err := q.db.ExecContext(ctx, ensureBudget, ownerID, period, nowMs, nowMs)
	return err
}

const setBudgetLimit = `INSERT INTO budgets (owner_id, period, total_limit_cents, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (owner_id, period) DO UPDATE SET
  total_limit_cents = excluded.total_limit_cents,
  updated_at_ms = excluded.updated_at_ms`

func (q *Queries) SetBudgetLimit(ctx context.Context, ownerID, period string, limit, nowMs int64) error {
	_, err := q.db.ExecContext(ctx, setBudgetLimit, ownerID, period, limit, nowMs, nowMs)
	return err
}

const setCategoryLimit = `INSERT INTO budget_categories (owner_id, period, category, limit_cents, alert_threshold)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (owner_id, period, category) DO UPDATE SET
  limit_cents = excluded.limit_cents,
  alert_threshold = excluded.alert_threshold`

func (q *Queries) SetCategoryLimit(ctx context.Context, ownerID, period, category string, limit int64, threshold float64) error {
	_, err := q.db.ExecContext(ctx, setCategoryLimit, ownerID, period, category, limit, threshold)
	return err
}

const setBudgetSpent = `UPDATE budgets SET total_spent_cents = ?, updated_at_ms = ?
WHERE owner_id = ? AND period = ?`

func (q *Queries) SetBudgetSpent(ctx context.Context, ownerID, period string, total, nowMs int64) error {
	_, err := q.db.ExecContext(ctx, setBudgetSpent, total, nowMs, ownerID, period)
	return err
}

const setCategorySpent = `UPDATE budget_categories SET spent_cents = ?
WHERE owner_id = ? AND period = ? AND category = ?`

func (q *Queries) SetCategorySpent(ctx context.Context, ownerID, period, category string, spent int64) error {
	_, err := q.db.ExecContext(ctx, setCategorySpent, spent, ownerID, period, category)
	return err
}

const getBudget = `SELECT owner_id, period, total_limit_cents, total_spent_cents, alerts_enabled, created_at_ms, updated_at_ms
FROM budgets WHERE owner_id = ? AND period = ?`

func (q *Queries) GetBudget(ctx context.Context, ownerID, period string) (Budget, error) {
	var b Budget
	err := q.db.QueryRowContext(ctx, getBudget, ownerID, period).Scan(
		&b.OwnerID, &b.Period, &b.TotalLimitCents, &b.TotalSpentCents, &b.AlertsEnabled, &b.CreatedAtMs, &b.UpdatedAtMs)
	return b, err
}

const listBudgetCategories = `SELECT category, limit_cents, spent_cents, alert_threshold
FROM budget_categories WHERE owner_id = ? AND period = ? ORDER BY category`

func (q *Queries) ListBudgetCategories(ctx context.Context, ownerID, period string) ([]BudgetCategory, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetCategories, ownerID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BudgetCategory
	for rows.Next() {
		var c BudgetCategory
		if err := rows.Scan(&c.Category, &c.LimitCents, &c.SpentCents, &c.AlertThreshold); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const listBudgetsSince = `SELECT owner_id, period, total_limit_cents, total_spent_cents, alerts_enabled, created_at_ms, updated_at_ms
FROM budgets WHERE period >= ? ORDER BY owner_id, period`

func (q *Queries) ListBudgetsSince(ctx context.Context, period string) ([]Budget, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetsSince, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.OwnerID, &b.Period, &b.TotalLimitCents, &b.TotalSpentCents, &b.AlertsEnabled, &b.CreatedAtMs, &b.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const upsertGoal = `INSERT INTO goals (id, owner_id, name, target_cents, saved_cents, deadline_ms, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  name = excluded.name,
  target_cents = excluded.target_cents,
  saved_cents = excluded.saved_cents,
  deadline_ms = excluded.deadline_ms
WHERE goals.owner_id = excluded.owner_id`

// UpsertGoal returns 0 rows affected when the id belongs to another owner.
func (q *Queries) UpsertGoal(ctx context.Context, g Goal) (int64, error) {
	res, err := q.db.ExecContext(ctx, upsertGoal, g.ID, g.OwnerID, g.Name, g.TargetCents, g.SavedCents, g.DeadlineMs, g.CreatedAtMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listGoals = `SELECT id, owner_id, name, target_cents, saved_cents, deadline_ms, created_at_ms
FROM goals WHERE owner_id = ? ORDER BY created_at_ms, id`

func (q *Queries) ListGoals(ctx context.Context, ownerID string) ([]Goal, error) {
	rows, err := q.db.QueryContext(ctx, listGoals, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Goal
	for rows.Next() {
		var g Goal
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.Name, &g.TargetCents, &g.SavedCents, &g.DeadlineMs, &g.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const getSubscription = `SELECT id, owner_id, merchant_key, merchant_name, amount_cents, first_seen_ms, last_seen_ms, occurrences, source_expense
FROM subscriptions WHERE owner_id = ? AND merchant_key = ?`

func (q *Queries) GetSubscription(ctx context.Context, ownerID, merchantKey string) (Subscription, error) {
	var s Subscription
	err := q.db.QueryRowContext(ctx, getSubscription, ownerID, merchantKey).Scan(
		&s.ID, &s.OwnerID, &s.MerchantKey, &s.MerchantName, &s.AmountCents,
		&s.FirstSeenMs, &s.LastSeenMs, &s.Occurrences, &s.SourceExpense)
	return s, err
}

const upsertSubscription = `INSERT INTO subscriptions (id, owner_id, merchant_key, merchant_name, amount_cents, first_seen_ms, last_seen_ms, occurrences, source_expense)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (owner_id, merchant_key) DO UPDATE SET
  amount_cents = excluded.amount_cents,
  last_seen_ms = excluded.last_seen_ms,
  occurrences = excluded.occurrences`

func (q *Queries) UpsertSubscription(ctx context.Context, s Subscription) error {
	_, err := q.db.ExecContext(ctx, upsertSubscription,
		s.ID, s.OwnerID, s.MerchantKey, s.MerchantName, s.AmountCents,
		s.FirstSeenMs, s.LastSeenMs, s.Occurrences, s.SourceExpense)
	return err
}

const insertAudit = `INSERT INTO audit_log (id, owner_id, action, entity, entity_id, details_json, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertAudit(ctx context.Context, a AuditRow) error {
	_, err := q.db.ExecContext(ctx, insertAudit, a.ID, a.OwnerID, a.Action, a.Entity, a.EntityID, a.DetailsJSON, a.CreatedAtMs)
	return err
}

const listAudit = `SELECT id, owner_id, action, entity, entity_id, details_json, created_at_ms
FROM audit_log WHERE owner_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`

func (q *Queries) ListAudit(ctx context.Context, ownerID string, limit int64) ([]AuditRow, error) {
	rows, err := q.db.QueryContext(ctx, listAudit, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Action, &a.Entity, &a.EntityID, &a.DetailsJSON, &a.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
