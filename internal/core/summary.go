package core

import (
	"sort"
	"strings"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
	Count  int
}

// MerchantAmount represents an amount aggregated by merchant name.
type MerchantAmount struct {
	Name   string
	Amount Money
	Count  int
}

// Stats is a compact summary of the expenses in one date range.
type Stats struct {
	Period       Period
	Range        DateRange
	Total        Money
	Count        int
	Average      Money
	DailyAverage Money
	ByCategory   []CategoryAmount
	TopMerchants []MerchantAmount // top 10 by amount
}

// Summarize computes totals and breakdowns over expenses already filtered to rng.
// The daily average is normalized to the range length; for unbounded ranges
// the span between the first and last expense is used.
func Summarize(expenses []Expense, p Period, rng DateRange) Stats {
	st := Stats{Period: p, Range: rng, Count: len(expenses)}
	if len(expenses) == 0 {
		return st
	}

	byCat := map[string]*CategoryAmount{}
	byMerchant := map[string]*MerchantAmount{}
	first, last := expenses[0].Date, expenses[0].Date
	for _, e := range expenses {
		st.Total = st.Total.Add(e.Amount)

		cat := string(e.Merchant.Category)
		ca, ok := byCat[cat]
		if !ok {
			ca = &CategoryAmount{Name: cat}
			byCat[cat] = ca
		}
		ca.Amount = ca.Amount.Add(e.Amount)
		ca.Count++

		key := strings.ToLower(strings.TrimSpace(e.Merchant.Name))
		ma, ok := byMerchant[key]
		if !ok {
			ma = &MerchantAmount{Name: strings.TrimSpace(e.Merchant.Name)}
			byMerchant[key] = ma
		}
		ma.Amount = ma.Amount.Add(e.Amount)
		ma.Count++

		if e.Date.Before(first) {
			first = e.Date
		}
		if e.Date.After(last) {
			last = e.Date
		}
	}
	st.Average = Money{Cents: st.Total.Cents / int64(st.Count)}

	days := rng.Days()
	if days == 0 {
		days = int(StartOfDay(last).Sub(StartOfDay(first)).Hours()/24) + 1
	}
	st.DailyAverage = Money{Cents: st.Total.Cents / int64(days)}

	for _, ca := range byCat {
		st.ByCategory = append(st.ByCategory, *ca)
	}
	sort.Slice(st.ByCategory, func(i, j int) bool {
		if st.ByCategory[i].Amount.Cents != st.ByCategory[j].Amount.Cents {
			return st.ByCategory[i].Amount.Cents > st.ByCategory[j].Amount.Cents
		}
		return st.ByCategory[i].Name < st.ByCategory[j].Name
	})

	for _, ma := range byMerchant {
		st.TopMerchants = append(st.TopMerchants, *ma)
	}
	sort.Slice(st.TopMerchants, func(i, j int) bool {
		if st.TopMerchants[i].Amount.Cents != st.TopMerchants[j].Amount.Cents {
			return st.TopMerchants[i].Amount.Cents > st.TopMerchants[j].Amount.Cents
		}
		return st.TopMerchants[i].Name < st.TopMerchants[j].Name
	})
	if len(st.TopMerchants) > 10 {
		st.TopMerchants = st.TopMerchants[:10]
	}
	return st
}
