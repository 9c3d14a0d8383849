package core

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	SourceScan   Source = "scan"
	SourceManual Source = "manual"
	SourceImport Source = "import"
)

const (
	CategoryGroceries     Category = "groceries"
	CategoryRestaurants   Category = "restaurants"
	CategoryTransport     Category = "transport"
	CategoryFuel          Category = "fuel"
	CategoryShopping      Category = "shopping"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryUtilities     Category = "utilities"
	CategoryHousing       Category = "housing"
	CategoryEducation     Category = "education"
	CategoryTravel        Category = "travel"
	CategorySubscriptions Category = "subscriptions"
	CategoryOther         Category = "other"
)

type (
	Source   string
	Category string

	Merchant struct {
		Name     string
		Category Category
		TaxID    string // optional
		Address  string // optional
	}

	LineItem struct {
		Name       string
		Quantity   float64
		UnitPrice  Money
		TotalPrice Money
	}

	Metadata struct {
		Source     Source
		Verified   bool
		Confidence *float64 // set for scanned receipts
	}

	// Expense is a single financial record. Records are immutable except
	// through an explicit update.
	Expense struct {
		ID        string
		OwnerID   string
		Amount    Money
		Currency  string
		Merchant  Merchant
		Date      time.Time
		Items     []LineItem
		Tags      []string
		Notes     string
		Metadata  Metadata
		CreatedAt time.Time
	}

	// ExpenseInput carries the caller-supplied fields of a new expense.
	ExpenseInput struct {
		OwnerID  string
		Amount   Money
		Currency string
		Merchant Merchant
		Date     time.Time
		Items    []LineItem
		Tags     []string
		Notes    string
		Metadata Metadata
	}

	// ExpenseChanges is a partial update; nil fields are left untouched.
	ExpenseChanges struct {
		Amount   *Money
		Currency *string
		Merchant *Merchant
		Date     *time.Time
		Items    *[]LineItem
		Tags     *[]string
		Notes    *string
		Verified *bool
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyMerchant   = errors.New("empty merchant name")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidSource   = errors.New("invalid source")
	ErrEmptyOwner      = errors.New("empty owner id")
	ErrNotFound        = errors.New("not found")
)

var (
	builtinCategories = map[Category]struct{}{
		CategoryGroceries: {}, CategoryRestaurants: {}, CategoryTransport: {}, CategoryFuel: {},
		CategoryShopping: {}, CategoryEntertainment: {}, CategoryHealth: {}, CategoryUtilities: {},
		CategoryHousing: {}, CategoryEducation: {}, CategoryTravel: {}, CategorySubscriptions: {},
		CategoryOther: {},
	}
	// free-form categories are lowercase slugs
	categorySlugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_\- ]{0,39}$`)
	currencyRe     = regexp.MustCompile(`^[A-Z]{3}$`)
)

// NormalizeCategory lowercases and trims a category name.
func NormalizeCategory(s string) Category {
	return Category(strings.ToLower(strings.TrimSpace(s)))
}

func (c Category) Validate() error {
	if c.IsBuiltin() {
		return nil
	}
	if !categorySlugRe.MatchString(string(c)) {
		return ErrInvalidCategory
	}
	return nil
}

// IsBuiltin reports whether c belongs to the fixed category set.
func (c Category) IsBuiltin() bool {
	_, ok := builtinCategories[c]
	return ok
}

func (s Source) Validate() error {
	switch s {
	case SourceScan, SourceManual, SourceImport:
		return nil
	default:
		return ErrInvalidSource
	}
}

func validateCurrency(cur string) error {
	if !currencyRe.MatchString(cur) {
		return ErrInvalidCurrency
	}
	return nil
}

// NormalizeTags trims, lowercases and de-duplicates tags, sorted.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (in ExpenseInput) Validate() error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Merchant.Name) == "" {
		return ErrEmptyMerchant
	}
	if len(in.Merchant.Name) > 200 {
		return errors.New("merchant name too long (max 200 characters)")
	}
	if err := in.Merchant.Category.Validate(); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return ErrInvalidDate
	}
	if err := validateCurrency(in.Currency); err != nil {
		return err
	}
	if err := in.Metadata.Source.Validate(); err != nil {
		return err
	}
	if c := in.Metadata.Confidence; c != nil && (*c < 0 || *c > 1) {
		return errors.New("confidence must be between 0 and 1")
	}
	return nil
}

func (e Expense) Validate() error {
	if e.ID == "" {
		return errors.New("empty expense id")
	}
	return e.Input().Validate()
}

// Input returns the caller-controlled part of the expense.
func (e Expense) Input() ExpenseInput {
	return ExpenseInput{
		OwnerID:  e.OwnerID,
		Amount:   e.Amount,
		Currency: e.Currency,
		Merchant: e.Merchant,
		Date:     e.Date,
		Items:    e.Items,
		Tags:     e.Tags,
		Notes:    e.Notes,
		Metadata: e.Metadata,
	}
}

// Period returns the budget period the expense is accounted to.
func (e Expense) Period() PeriodKey {
	return PeriodKeyFor(e.Date)
}

// TouchesAggregate reports whether the changes may move money between
// budget periods or categories.
func (c ExpenseChanges) TouchesAggregate() bool {
	return c.Amount != nil || c.Date != nil || c.Merchant != nil
}

// IsEmpty reports whether no field would change.
func (c ExpenseChanges) IsEmpty() bool {
	return c.Amount == nil && c.Currency == nil && c.Merchant == nil && c.Date == nil &&
		c.Items == nil && c.Tags == nil && c.Notes == nil && c.Verified == nil
}

// Apply returns a copy of e with the changes applied.
func (c ExpenseChanges) Apply(e Expense) Expense {
	if c.Amount != nil {
		e.Amount = *c.Amount
	}
	if c.Currency != nil {
		e.Currency = *c.Currency
	}
	if c.Merchant != nil {
		e.Merchant = *c.Merchant
	}
	if c.Date != nil {
		e.Date = c.Date.UTC()
	}
	if c.Items != nil {
		e.Items = append([]LineItem(nil), (*c.Items)...)
	}
	if c.Tags != nil {
		e.Tags = NormalizeTags(*c.Tags)
	}
	if c.Notes != nil {
		e.Notes = *c.Notes
	}
	if c.Verified != nil {
		e.Metadata.Verified = *c.Verified
	}
	return e
}
