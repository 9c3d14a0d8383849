package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/log"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements ports.Store and ports.AuditLog on one SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := filepath.Clean(dbPath) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; concurrent increments queue here instead of failing busy
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("SQLite store ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// rangeMillis maps unbounded range ends onto the int64 extremes.
func rangeMillis(rng core.DateRange) (int64, int64) {
	from, to := int64(math.MinInt64), int64(math.MaxInt64)
	if !rng.From.IsZero() {
		from = toMillis(rng.From)
	}
	if !rng.To.IsZero() {
		to = toMillis(rng.To)
	}
	return from, to
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func toRow(e core.Expense) (Expense, error) {
	items, err := json.Marshal(e.Items)
	if err != nil {
		return Expense{}, fmt.Errorf("encode items: %w", err)
	}
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return Expense{}, fmt.Errorf("encode tags: %w", err)
	}
	row := Expense{
		ID:              e.ID,
		OwnerID:         e.OwnerID,
		AmountCents:     e.Amount.Cents,
		Currency:        e.Currency,
		MerchantName:    e.Merchant.Name,
		Category:        string(e.Merchant.Category),
		MerchantTaxID:   e.Merchant.TaxID,
		MerchantAddress: e.Merchant.Address,
		DateMs:          toMillis(e.Date),
		ItemsJSON:       string(items),
		TagsJSON:        string(tags),
		Notes:           e.Notes,
		Source:          string(e.Metadata.Source),
		Verified:        e.Metadata.Verified,
		CreatedAtMs:     toMillis(e.CreatedAt),
	}
	if e.Metadata.Confidence != nil {
		row.Confidence = sql.NullFloat64{Float64: *e.Metadata.Confidence, Valid: true}
	}
	return row, nil
}

func fromRow(row Expense) (core.Expense, error) {
	e := core.Expense{
		ID:       row.ID,
		OwnerID:  row.OwnerID,
		Amount:   core.Cents(row.AmountCents),
		Currency: row.Currency,
		Merchant: core.Merchant{
			Name:     row.MerchantName,
			Category: core.Category(row.Category),
			TaxID:    row.MerchantTaxID,
			Address:  row.MerchantAddress,
		},
		Date:      fromMillis(row.DateMs),
		Notes:     row.Notes,
		Metadata:  core.Metadata{Source: core.Source(row.Source), Verified: row.Verified},
		CreatedAt: fromMillis(row.CreatedAtMs),
	}
	if err := json.Unmarshal([]byte(row.ItemsJSON), &e.Items); err != nil {
		return core.Expense{}, fmt.Errorf("decode items of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.TagsJSON), &e.Tags); err != nil {
		return core.Expense{}, fmt.Errorf("decode tags of %s: %w", row.ID, err)
	}
	if row.Confidence.Valid {
		c := row.Confidence.Float64
		e.Metadata.Confidence = &c
	}
	return e, nil
}

func fromRows(rows []Expense) ([]core.Expense, error) {
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	if err := r.queries.CreateExpense(ctx, row); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	r.logger.DebugContext(ctx, "Expense saved to SQLite",
		log.NewFields().WithOwner(e.OwnerID).
			WithExpense(e.ID, e.Amount.Cents, e.Merchant.Name, string(e.Merchant.Category)).ToSlice()...)
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, ownerID, id string) (core.Expense, error) {
	row, err := r.queries.GetExpense(ctx, ownerID, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, notFound(err))
	}
	return fromRow(row)
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	n, err := r.queries.UpdateExpense(ctx, row)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update expense %s: %w", e.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, ownerID, id string) (bool, error) {
	n, err := r.queries.DeleteExpense(ctx, ownerID, id)
	if err != nil {
		return false, fmt.Errorf("delete expense %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, ownerID string, rng core.DateRange) ([]core.Expense, error) {
	from, to := rangeMillis(rng)
	rows, err := r.queries.ListExpensesInRange(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return fromRows(rows)
}

func (r *SQLiteRepository) RecentExpenses(ctx context.Context, ownerID string, limit int) ([]core.Expense, error) {
	rows, err := r.queries.ListRecentExpenses(ctx, ownerID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent expenses: %w", err)
	}
	return fromRows(rows)
}

// SumByCategory totals the owner's expenses in the period per category.
// Reconciliation uses it to resum without loading every record.
func (r *SQLiteRepository) SumByCategory(ctx context.Context, ownerID string, period core.PeriodKey) (map[core.Category]core.Money, error) {
	from, to := rangeMillis(period.Range())
	sums, err := r.queries.SumExpensesByCategory(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum expenses for %s: %w", period, err)
	}
	out := make(map[core.Category]core.Money, len(sums))
	for cat, cents := range sums {
		out[core.Category(cat)] = core.Cents(cents)
	}
	return out, nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) IncrementSpent(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, delta core.Money) error {
	nowMs := toMillis(r.now())
	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.IncrementBudgetSpent(ctx, ownerID, string(period), delta.Cents, nowMs); err != nil {
			return err
		}
		return q.IncrementCategorySpent(ctx, ownerID, string(period), string(category), delta.Cents)
	})
	if err != nil {
		return fmt.Errorf("increment budget %s/%s: %w", ownerID, period, err)
	}
	return nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, ownerID string, period core.PeriodKey) (core.Budget, error) {
	row, err := r.queries.GetBudget(ctx, ownerID, string(period))
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", period, notFound(err))
	}
	return r.budgetWithCategories(ctx, row)
}

func (r *SQLiteRepository) budgetWithCategories(ctx context.Context, row Budget) (core.Budget, error) {
	cats, err := r.queries.ListBudgetCategories(ctx, row.OwnerID, row.Period)
	if err != nil {
		return core.Budget{}, fmt.Errorf("list category limits: %w", err)
	}
	b := core.Budget{
		OwnerID:        row.OwnerID,
		Period:         core.PeriodKey(row.Period),
		TotalLimit:     core.Cents(row.TotalLimitCents),
		TotalSpent:     core.Cents(row.TotalSpentCents),
		CategoryLimits: make(map[core.Category]core.CategoryLimit, len(cats)),
		AlertsEnabled:  row.AlertsEnabled,
		CreatedAt:      fromMillis(row.CreatedAtMs),
		UpdatedAt:      fromMillis(row.UpdatedAtMs),
	}
	for _, c := range cats {
		b.CategoryLimits[core.Category(c.Category)] = core.CategoryLimit{
			Limit:          core.Cents(c.LimitCents),
			Spent:          core.Cents(c.SpentCents),
			AlertThreshold: c.AlertThreshold,
		}
	}
	return b, nil
}

func (r *SQLiteRepository) SetTotalLimit(ctx context.Context, ownerID string, period core.PeriodKey, limit core.Money) error {
	if err := r.queries.SetBudgetLimit(ctx, ownerID, string(period), limit.Cents, toMillis(r.now())); err != nil {
		return fmt.Errorf("set budget limit %s: %w", period, err)
	}
	return nil
}

func (r *SQLiteRepository) SetCategoryLimit(ctx context.Context, ownerID string, period core.PeriodKey, category core.Category, limit core.Money, alertThreshold float64) error {
	nowMs := toMillis(r.now())
	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.EnsureBudget(ctx, ownerID, string(period), nowMs); err != nil {
			return err
		}
		return q.SetCategoryLimit(ctx, ownerID, string(period), string(category), limit.Cents, alertThreshold)
	})
	if err != nil {
		return fmt.Errorf("set category limit %s/%s: %w", period, category, err)
	}
	return nil
}

// SetSpent rewrites the totals. Categories without a limit row are skipped;
// categories with a row but no spend are zeroed.
func (r *SQLiteRepository) SetSpent(ctx context.Context, ownerID string, period core.PeriodKey, total core.Money, byCategory map[core.Category]core.Money) error {
	nowMs := toMillis(r.now())
	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.EnsureBudget(ctx, ownerID, string(period), nowMs); err != nil {
			return err
		}
		if err := q.SetBudgetSpent(ctx, ownerID, string(period), total.Cents, nowMs); err != nil {
			return err
		}
		cats, err := q.ListBudgetCategories(ctx, ownerID, string(period))
		if err != nil {
			return err
		}
		for _, c := range cats {
			spent := byCategory[core.Category(c.Category)]
			if err := q.SetCategorySpent(ctx, ownerID, string(period), c.Category, spent.Cents); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set budget spent %s: %w", period, err)
	}
	return nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, since core.PeriodKey) ([]core.Budget, error) {
	rows, err := r.queries.ListBudgetsSince(ctx, string(since))
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.Budget, 0, len(rows))
	for _, row := range rows {
		b, err := r.budgetWithCategories(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertGoal(ctx context.Context, g core.Goal) error {
	row := Goal{
		ID:          g.ID,
		OwnerID:     g.OwnerID,
		Name:        g.Name,
		TargetCents: g.Target.Cents,
		SavedCents:  g.Saved.Cents,
		CreatedAtMs: toMillis(g.CreatedAt),
	}
	if !g.Deadline.IsZero() {
		row.DeadlineMs = sql.NullInt64{Int64: toMillis(g.Deadline), Valid: true}
	}
	n, err := r.queries.UpsertGoal(ctx, row)
	if err != nil {
		return fmt.Errorf("upsert goal %s: %w", g.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("upsert goal %s: %w", g.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error) {
	rows, err := r.queries.ListGoals(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	out := make([]core.Goal, 0, len(rows))
	for _, row := range rows {
		g := core.Goal{
			ID:        row.ID,
			OwnerID:   row.OwnerID,
			Name:      row.Name,
			Target:    core.Cents(row.TargetCents),
			Saved:     core.Cents(row.SavedCents),
			CreatedAt: fromMillis(row.CreatedAtMs),
		}
		if row.DeadlineMs.Valid {
			g.Deadline = fromMillis(row.DeadlineMs.Int64)
		}
		out = append(out, g)
	}
	return out, nil
}

func merchantKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func (r *SQLiteRepository) FindSubscription(ctx context.Context, ownerID, merchant string) (core.Subscription, error) {
	row, err := r.queries.GetSubscription(ctx, ownerID, merchantKey(merchant))
	if err != nil {
		return core.Subscription{}, fmt.Errorf("find subscription %q: %w", merchant, notFound(err))
	}
	return core.Subscription{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		MerchantName:  row.MerchantName,
		Amount:        core.Cents(row.AmountCents),
		FirstSeen:     fromMillis(row.FirstSeenMs),
		LastSeen:      fromMillis(row.LastSeenMs),
		Occurrences:   int(row.Occurrences),
		SourceExpense: row.SourceExpense,
	}, nil
}

func (r *SQLiteRepository) SaveSubscription(ctx context.Context, s core.Subscription) error {
	err := r.queries.UpsertSubscription(ctx, Subscription{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		MerchantKey:   merchantKey(s.MerchantName),
		MerchantName:  s.MerchantName,
		AmountCents:   s.Amount.Cents,
		FirstSeenMs:   toMillis(s.FirstSeen),
		LastSeenMs:    toMillis(s.LastSeen),
		Occurrences:   int64(s.Occurrences),
		SourceExpense: s.SourceExpense,
	})
	if err != nil {
		return fmt.Errorf("save subscription %q: %w", s.MerchantName, err)
	}
	return nil
}

// LogAction implements ports.AuditLog.
func (r *SQLiteRepository) LogAction(ctx context.Context, ownerID, action, entity, entityID string, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	err = r.queries.InsertAudit(ctx, AuditRow{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
		DetailsJSON: string(data),
		CreatedAtMs: toMillis(r.now()),
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the owner's newest audit entries first.
func (r *SQLiteRepository) ListAudit(ctx context.Context, ownerID string, limit int) ([]core.AuditEntry, error) {
	rows, err := r.queries.ListAudit(ctx, ownerID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]core.AuditEntry, 0, len(rows))
	for _, row := range rows {
		a := core.AuditEntry{
			ID:        row.ID,
			OwnerID:   row.OwnerID,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			CreatedAt: fromMillis(row.CreatedAtMs),
		}
		if err := json.Unmarshal([]byte(row.DetailsJSON), &a.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
