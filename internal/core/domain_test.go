package core

import (
	"errors"
	"testing"
	"time"
)

func validInput() ExpenseInput {
	return ExpenseInput{
		OwnerID:  "u1",
		Amount:   Cents(4250),
		Currency: "PLN",
		Merchant: Merchant{Name: "Orlen", Category: CategoryFuel},
		Date:     time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		Metadata: Metadata{Source: SourceScan},
	}
}

func TestExpenseInputValidate(t *testing.T) {
	if err := validInput().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ExpenseInput)
		want   error
	}{
		{"zero amount", func(in *ExpenseInput) { in.Amount = Cents(0) }, ErrInvalidAmount},
		{"negative amount", func(in *ExpenseInput) { in.Amount = Cents(-5) }, ErrInvalidAmount},
		{"empty merchant", func(in *ExpenseInput) { in.Merchant.Name = "  " }, ErrEmptyMerchant},
		{"bad category", func(in *ExpenseInput) { in.Merchant.Category = "Not A Slug!" }, ErrInvalidCategory},
		{"empty category", func(in *ExpenseInput) { in.Merchant.Category = "" }, ErrInvalidCategory},
		{"zero date", func(in *ExpenseInput) { in.Date = time.Time{} }, ErrInvalidDate},
		{"bad currency", func(in *ExpenseInput) { in.Currency = "zl" }, ErrInvalidCurrency},
		{"bad source", func(in *ExpenseInput) { in.Metadata.Source = "fax" }, ErrInvalidSource},
		{"no owner", func(in *ExpenseInput) { in.OwnerID = "" }, ErrEmptyOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			if err := in.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCategoryValidate(t *testing.T) {
	for _, c := range []Category{CategoryGroceries, CategoryOther, "pets", "kids_stuff"} {
		if err := c.Validate(); err != nil {
			t.Errorf("%q: unexpected error %v", c, err)
		}
	}
	if NormalizeCategory("  Groceries ") != CategoryGroceries {
		t.Error("NormalizeCategory should lowercase and trim")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"Work", " work", "", "trip"})
	if len(got) != 2 || got[0] != "trip" || got[1] != "work" {
		t.Fatalf("unexpected tags: %v", got)
	}
}

func TestExpenseChangesApply(t *testing.T) {
	e := Expense{ID: "e1", Amount: Cents(100), Date: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}
	newDate := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	amt := Cents(250)
	ch := ExpenseChanges{Amount: &amt, Date: &newDate}

	if !ch.TouchesAggregate() {
		t.Fatal("amount/date change should touch the aggregate")
	}
	got := ch.Apply(e)
	if got.Amount.Cents != 250 || got.Period() != "2025-02" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if e.Amount.Cents != 100 {
		t.Fatal("Apply must not mutate the original")
	}

	notes := "x"
	if (ExpenseChanges{Notes: &notes}).TouchesAggregate() {
		t.Fatal("notes change should not touch the aggregate")
	}
	m := Merchant{Name: "Lidl", Category: CategoryGroceries}
	if !(ExpenseChanges{Merchant: &m}).TouchesAggregate() {
		t.Fatal("merchant change may move category spend")
	}
}
