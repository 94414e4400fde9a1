package cashdrawer

import (
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/money"
)

// Reconciliation is what the drawer should hold, computed from the session's
// ledger. Close freezes it and the X/Z reports recompute it the same way.
type Reconciliation struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CashSales      decimal.Decimal `json:"cash_sales"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	CashIn         decimal.Decimal `json:"cash_in"`
	// CashOut is the magnitude of cash removed; movements store it negative.
	CashOut    decimal.Decimal `json:"cash_out"`
	SystemCash decimal.Decimal `json:"system_cash"`
	Cards      decimal.Decimal `json:"cards"`
	Cheques    decimal.Decimal `json:"cheques"`
	Mobile     decimal.Decimal `json:"mobile"`
	Credit     decimal.Decimal `json:"credit"`
	Chifa      decimal.Decimal `json:"chifa"`
}

// Reconcile sums the completed sales and the movements of a session:
//
//	system_cash = opening + Σpaid_cash − Σchange + Σcash_in − Σcash_out
//
// Voided and returned sales contribute nothing.
func Reconcile(opening decimal.Decimal, sales []*Sale, movements []*Movement) Reconciliation {
	r := Reconciliation{
		OpeningBalance: opening,
		CashSales:      decimal.Zero,
		ChangeGiven:    decimal.Zero,
		CashIn:         decimal.Zero,
		CashOut:        decimal.Zero,
		Cards:          decimal.Zero,
		Cheques:        decimal.Zero,
		Mobile:         decimal.Zero,
		Credit:         decimal.Zero,
		Chifa:          decimal.Zero,
	}
	for _, s := range sales {
		if s.Status != SaleCompleted {
			continue
		}
		r.CashSales = r.CashSales.Add(s.PaidCash)
		r.ChangeGiven = r.ChangeGiven.Add(s.ChangeGiven)
		r.Cards = r.Cards.Add(s.PaidCard)
		r.Cheques = r.Cheques.Add(s.PaidCheque)
		r.Mobile = r.Mobile.Add(s.PaidMobile)
		r.Credit = r.Credit.Add(s.PaidCredit)
		r.Chifa = r.Chifa.Add(s.ChifaTotal)
	}
	for _, m := range movements {
		switch m.Type {
		case MovementCashIn:
			r.CashIn = r.CashIn.Add(m.Amount)
		case MovementCashOut:
			r.CashOut = r.CashOut.Add(m.Amount.Abs())
		}
	}
	r.SystemCash = money.Sum(opening, r.CashSales, r.ChangeGiven.Neg(), r.CashIn, r.CashOut.Neg())
	return r
}

// Variance is counted minus expected cash; negative means the drawer is short.
func (r Reconciliation) Variance(counted decimal.Decimal) decimal.Decimal {
	return counted.Sub(r.SystemCash)
}

type VarianceClass string

const (
	VarianceBalanced VarianceClass = "balanced"
	VarianceMinor    VarianceClass = "minor"
	VarianceMajor    VarianceClass = "major"
)

var minorVarianceShare = decimal.RequireFromString("0.01")

// ClassifyVariance grades a cash variance against the expected cash. Up to 1%
// of expected cash is minor; anything beyond, or any gap on an empty drawer,
// is major.
func ClassifyVariance(variance, systemCash decimal.Decimal) VarianceClass {
	if variance.IsZero() {
		return VarianceBalanced
	}
	limit := systemCash.Abs().Mul(minorVarianceShare)
	if variance.Abs().LessThanOrEqual(limit) {
		return VarianceMinor
	}
	return VarianceMajor
}
