package chifa

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/money"
)

// RoundingMode is how the insurer share is brought to the minor unit.
type RoundingMode string

const (
	RoundBank     RoundingMode = "bank"
	RoundHalfUp   RoundingMode = "half_up"
	RoundTruncate RoundingMode = "truncate"
)

func ParseRoundingMode(s string) (RoundingMode, error) {
	switch m := RoundingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RoundBank, RoundHalfUp, RoundTruncate:
		return m, nil
	case "":
		return RoundBank, nil
	default:
		return "", fmt.Errorf("unknown rounding mode %q", s)
	}
}

func (m RoundingMode) round(d decimal.Decimal) decimal.Decimal {
	switch m {
	case RoundHalfUp:
		return d.Round(money.Places)
	case RoundTruncate:
		return d.Truncate(money.Places)
	default:
		return d.RoundBank(money.Places)
	}
}

// Policy carries the settlement rules that are not fixed by the formula.
type Policy struct {
	Rounding RoundingMode
	// LocalProductRate, when valid, replaces the supplied rate for locally
	// manufactured products on non-chronic invoices.
	LocalProductRate decimal.NullDecimal
}

func DefaultPolicy() Policy {
	return Policy{Rounding: RoundBank}
}

// LineInput is a billed line as it arrives from the API or CLI. It is mapped
// into a Line before any arithmetic runs.
type LineInput struct {
	ProductID         *uuid.UUID          `json:"product_id,omitempty"`
	ProductName       string              `json:"product_name"`
	Quantity          int                 `json:"quantity"`
	UnitPrice         decimal.Decimal     `json:"unit_price"`
	TarifReference    decimal.NullDecimal `json:"tarif_reference"`
	ReimbursementRate decimal.Decimal     `json:"reimbursement_rate"`
	IsLocalProduct    bool                `json:"is_local_product"`
}

// Line is a validated billed line. A missing reference tariff has already
// been resolved to the unit price.
type Line struct {
	ProductID         *uuid.UUID
	ProductName       string
	Quantity          int
	UnitPrice         decimal.Decimal
	TarifReference    decimal.Decimal
	TarifSupplied     bool
	ReimbursementRate decimal.Decimal
	IsLocalProduct    bool
}

// ToLine validates in and returns the typed line.
func (in LineInput) ToLine() (Line, error) {
	l := Line{
		ProductID:         in.ProductID,
		ProductName:       strings.TrimSpace(in.ProductName),
		Quantity:          in.Quantity,
		UnitPrice:         in.UnitPrice,
		TarifReference:    in.UnitPrice,
		ReimbursementRate: in.ReimbursementRate,
		IsLocalProduct:    in.IsLocalProduct,
	}
	if in.TarifReference.Valid {
		l.TarifReference = in.TarifReference.Decimal
		l.TarifSupplied = true
	}
	if err := l.validate(); err != nil {
		return Line{}, err
	}
	if l.ProductName == "" {
		return Line{}, apperr.Invalid("product_name", "is required")
	}
	return l, nil
}

func (l Line) validate() error {
	if l.Quantity <= 0 {
		return apperr.Invalid("quantity", "must be positive, got %d", l.Quantity)
	}
	if err := money.Positive("unit_price", l.UnitPrice); err != nil {
		return err
	}
	if err := money.NonNegative("tarif_reference", l.TarifReference); err != nil {
		return err
	}
	if l.ReimbursementRate.IsNegative() || l.ReimbursementRate.GreaterThan(money.Hundred) {
		return apperr.Invalid("reimbursement_rate", "must be between 0 and 100, got %s", l.ReimbursementRate)
	}
	if !l.ReimbursementRate.Equal(l.ReimbursementRate.Truncate(2)) {
		return apperr.Invalid("reimbursement_rate", "has more than 2 decimal places: %s", l.ReimbursementRate)
	}
	return nil
}

// Split is the calculator output for one line.
type Split struct {
	LineTotal        decimal.Decimal `json:"line_total"`
	ReimbursableBase decimal.Decimal `json:"reimbursable_base"`
	EffectiveRate    decimal.Decimal `json:"effective_rate"`
	ChifaAmount      decimal.Decimal `json:"chifa_amount"`
	PatientAmount    decimal.Decimal `json:"patient_amount"`
	MajorationAmount decimal.Decimal `json:"majoration_amount"`
}

func (p Policy) effectiveRate(l Line, isChronic bool) decimal.Decimal {
	switch {
	case isChronic:
		return money.Hundred
	case l.IsLocalProduct && p.LocalProductRate.Valid:
		return p.LocalProductRate.Decimal
	default:
		return l.ReimbursementRate
	}
}

// Split computes the insurer, patient and majoration amounts of one line.
// The insurer share is the only rounded quantity; every other output is exact.
// It has no state, so identical inputs always produce identical outputs.
func (p Policy) Split(l Line, isChronic bool) (Split, error) {
	if err := l.validate(); err != nil {
		return Split{}, err
	}

	qty := decimal.NewFromInt(int64(l.Quantity))
	rate := p.effectiveRate(l, isChronic)

	lineTotal := l.UnitPrice.Mul(qty)
	base := decimal.Min(l.UnitPrice, l.TarifReference).Mul(qty)
	chifa := p.Rounding.round(base.Mul(rate).Div(money.Hundred))
	majoration := decimal.Max(decimal.Zero, l.UnitPrice.Sub(l.TarifReference)).Mul(qty)

	s := Split{
		LineTotal:        lineTotal,
		ReimbursableBase: base,
		EffectiveRate:    rate,
		ChifaAmount:      chifa,
		PatientAmount:    lineTotal.Sub(chifa),
		MajorationAmount: majoration,
	}
	if err := s.check(); err != nil {
		return Split{}, err
	}
	return s, nil
}

// check verifies the calculator post-conditions. A failure means the policy
// produced a wrong amount and is reported as-is, never corrected.
func (s Split) check() error {
	fail := func(rule, format string, args ...interface{}) error {
		return &apperr.InvariantError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}
	switch {
	case !s.ChifaAmount.Add(s.PatientAmount).Equal(s.LineTotal):
		return fail("line_total", "chifa %s + patient %s != line total %s", s.ChifaAmount, s.PatientAmount, s.LineTotal)
	case s.ChifaAmount.IsNegative(), s.PatientAmount.IsNegative(), s.MajorationAmount.IsNegative():
		return fail("non_negative", "chifa %s, patient %s, majoration %s", s.ChifaAmount, s.PatientAmount, s.MajorationAmount)
	case s.ChifaAmount.GreaterThan(s.ReimbursableBase):
		return fail("reference_cap", "chifa %s exceeds reimbursable base %s", s.ChifaAmount, s.ReimbursableBase)
	case s.MajorationAmount.GreaterThan(s.PatientAmount):
		return fail("majoration_patient_borne", "majoration %s exceeds patient share %s", s.MajorationAmount, s.PatientAmount)
	}
	return nil
}

// Totals are the element-wise sums over an invoice's lines.
type Totals struct {
	TotalTarifReference decimal.Decimal `json:"total_tarif_reference"`
	TotalChifa          decimal.Decimal `json:"total_chifa"`
	TotalPatient        decimal.Decimal `json:"total_patient"`
	TotalMajoration     decimal.Decimal `json:"total_majoration"`
	GrandTotal          decimal.Decimal `json:"grand_total"`
}

// SplitLines runs Split over every line. The first failing line aborts the
// whole computation; its error names the line index.
func (p Policy) SplitLines(lines []Line, isChronic bool) ([]Split, Totals, error) {
	if len(lines) == 0 {
		return nil, Totals{}, apperr.Invalid("lines", "at least one line is required")
	}

	splits := make([]Split, len(lines))
	t := Totals{
		TotalTarifReference: decimal.Zero,
		TotalChifa:          decimal.Zero,
		TotalPatient:        decimal.Zero,
		TotalMajoration:     decimal.Zero,
		GrandTotal:          decimal.Zero,
	}
	for i, l := range lines {
		s, err := p.Split(l, isChronic)
		if err != nil {
			return nil, Totals{}, atLine(i, err)
		}
		splits[i] = s

		qty := decimal.NewFromInt(int64(l.Quantity))
		t.TotalTarifReference = t.TotalTarifReference.Add(l.TarifReference.Mul(qty))
		t.TotalChifa = t.TotalChifa.Add(s.ChifaAmount)
		t.TotalPatient = t.TotalPatient.Add(s.PatientAmount)
		t.TotalMajoration = t.TotalMajoration.Add(s.MajorationAmount)
		t.GrandTotal = t.GrandTotal.Add(s.LineTotal)
	}
	return splits, t, nil
}

// atLine prefixes the failing field with the line position.
func atLine(i int, err error) error {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return &apperr.ValidationError{Field: fmt.Sprintf("lines[%d].%s", i, ve.Field), Message: ve.Message}
	}
	var ie *apperr.InvariantError
	if errors.As(err, &ie) {
		return &apperr.InvariantError{Rule: ie.Rule, Detail: fmt.Sprintf("line %d: %s", i, ie.Detail)}
	}
	return fmt.Errorf("line %d: %w", i, err)
}

// ToLines maps boundary lines into validated lines.
func ToLines(in []LineInput) ([]Line, error) {
	if len(in) == 0 {
		return nil, apperr.Invalid("lines", "at least one line is required")
	}
	lines := make([]Line, len(in))
	for i, li := range in {
		l, err := li.ToLine()
		if err != nil {
			return nil, atLine(i, err)
		}
		lines[i] = l
	}
	return lines, nil
}
