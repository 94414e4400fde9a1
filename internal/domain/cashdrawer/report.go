package cashdrawer

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
)

type ReportType string

const (
	ReportX ReportType = "x"
	ReportZ ReportType = "z"
)

func ParseReportType(s string) (ReportType, error) {
	switch t := ReportType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return ReportX, nil
	case ReportX, ReportZ:
		return t, nil
	default:
		return "", apperr.Invalid("type", "must be x or z, got %q", s)
	}
}

type TenderTotals struct {
	Cash   decimal.Decimal `json:"cash"`
	Card   decimal.Decimal `json:"card"`
	Cheque decimal.Decimal `json:"cheque"`
	Mobile decimal.Decimal `json:"mobile"`
	Credit decimal.Decimal `json:"credit"`
}

type ProductSales struct {
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// FrozenTotals are the system figures stored when the session closed.
type FrozenTotals struct {
	SystemCash    decimal.Decimal `json:"system_cash"`
	SystemCards   decimal.Decimal `json:"system_cards"`
	SystemCheques decimal.Decimal `json:"system_cheques"`
	SystemMobile  decimal.Decimal `json:"system_mobile"`
	SystemCredit  decimal.Decimal `json:"system_credit"`
	SystemChifa   decimal.Decimal `json:"system_chifa"`
}

// Report is the X (mid-shift) or Z (end of shift) summary of a session. Both
// types run the same aggregation; Z adds the closing fields.
type Report struct {
	Type          ReportType    `json:"type"`
	Final         bool          `json:"final"`
	GeneratedAt   time.Time     `json:"generated_at"`
	SessionID     uuid.UUID     `json:"session_id"`
	SessionNumber string        `json:"session_number"`
	DrawerID      string        `json:"drawer_id"`
	Status        SessionStatus `json:"status"`
	OpenedAt      time.Time     `json:"opened_at"`
	OpenedBy      string        `json:"opened_by"`
	OpenedByName  *string       `json:"opened_by_name,omitempty"`

	TransactionCount int `json:"transaction_count"`
	VoidCount        int `json:"void_count"`
	ReturnCount      int `json:"return_count"`
	ItemsSold        int `json:"items_sold"`
	NoSaleCount      int `json:"no_sale_count"`

	Tenders      TenderTotals    `json:"tenders"`
	GrossSales   decimal.Decimal `json:"gross_sales"`
	ReturnsTotal decimal.Decimal `json:"returns_total"`
	Discounts    decimal.Decimal `json:"discounts"`
	NetSales     decimal.Decimal `json:"net_sales"`
	ChifaPending decimal.Decimal `json:"chifa_pending"`
	ChangeGiven  decimal.Decimal `json:"change_given"`
	CashIn       decimal.Decimal `json:"cash_in"`
	CashOut      decimal.Decimal `json:"cash_out"`

	OpeningBalance decimal.Decimal `json:"opening_balance"`
	// ExpectedCash is the frozen system cash once the session is closed.
	// LedgerExpectedCash always follows the current sale statuses, so the
	// two differ after a late void or return.
	ExpectedCash       decimal.Decimal `json:"expected_cash"`
	LedgerExpectedCash decimal.Decimal `json:"ledger_expected_cash"`
	Frozen             *FrozenTotals   `json:"frozen,omitempty"`

	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	ClosedBy      *string             `json:"closed_by,omitempty"`
	ClosedByName  *string             `json:"closed_by_name,omitempty"`
	CountedCash   decimal.NullDecimal `json:"counted_cash,omitempty"`
	VarianceCash  decimal.NullDecimal `json:"variance_cash,omitempty"`
	VarianceClass VarianceClass       `json:"variance_class,omitempty"`

	TopProducts []ProductSales `json:"top_products"`
}

// GenerateReport aggregates a session without writing anything. topN <= 0
// uses the configured default.
func (s *Service) GenerateReport(ctx context.Context, actor auth.Actor, sessionID uuid.UUID, typ ReportType, topN int) (*Report, error) {
	if typ != ReportX && typ != ReportZ {
		return nil, apperr.Invalid("type", "must be x or z, got %q", typ)
	}
	if topN <= 0 {
		topN = s.topN
	}

	sess, err := s.sessions.GetByID(ctx, actor.PharmacyID, sessionID)
	if err != nil {
		return nil, err
	}
	sales, err := s.sales.ListBySession(ctx, actor.PharmacyID, sessionID)
	if err != nil {
		return nil, err
	}
	movements, err := s.movements.ListBySession(ctx, actor.PharmacyID, sessionID)
	if err != nil {
		return nil, err
	}

	r := buildReport(sess, sales, movements, topN)
	r.Type = typ
	r.GeneratedAt = s.now()
	if !sess.IsOpen() && sess.SystemCash.Valid {
		r.Frozen = &FrozenTotals{
			SystemCash:    sess.SystemCash.Decimal,
			SystemCards:   sess.SystemCards.Decimal,
			SystemCheques: sess.SystemCheques.Decimal,
			SystemMobile:  sess.SystemMobile.Decimal,
			SystemCredit:  sess.SystemCredit.Decimal,
			SystemChifa:   sess.SystemChifa.Decimal,
		}
		r.ExpectedCash = sess.SystemCash.Decimal
	}
	if typ == ReportZ && !sess.IsOpen() {
		r.Final = true
		r.ClosedAt = sess.ClosedAt
		r.ClosedBy = sess.ClosedBy
		r.ClosedByName = sess.ClosedByName
		r.CountedCash = sess.CountedCash
		r.VarianceCash = sess.VarianceCash
		if sess.VarianceCash.Valid && sess.SystemCash.Valid {
			r.VarianceClass = ClassifyVariance(sess.VarianceCash.Decimal, sess.SystemCash.Decimal)
		}
	}
	return r, nil
}

func buildReport(sess *Session, sales []*Sale, movements []*Movement, topN int) *Report {
	rec := Reconcile(sess.OpeningBalance, sales, movements)
	r := &Report{
		SessionID:      sess.ID,
		SessionNumber:  sess.SessionNumber,
		DrawerID:       sess.DrawerID,
		Status:         sess.Status,
		OpenedAt:       sess.OpenedAt,
		OpenedBy:       sess.OpenedBy,
		OpenedByName:   sess.OpenedByName,
		OpeningBalance: sess.OpeningBalance,
		ExpectedCash:   rec.SystemCash,
		ChangeGiven:    rec.ChangeGiven,
		CashIn:         rec.CashIn,
		CashOut:        rec.CashOut,
		ChifaPending:   rec.Chifa,
		Tenders: TenderTotals{
			Cash:   rec.CashSales,
			Card:   rec.Cards,
			Cheque: rec.Cheques,
			Mobile: rec.Mobile,
			Credit: rec.Credit,
		},
		GrossSales:   decimal.Zero,
		ReturnsTotal: decimal.Zero,
		Discounts:    decimal.Zero,
		TopProducts:  []ProductSales{},
	}
	r.LedgerExpectedCash = rec.SystemCash

	products := map[string]*ProductSales{}
	for _, sale := range sales {
		switch sale.Status {
		case SaleVoided:
			r.VoidCount++
			continue
		case SaleReturned:
			r.ReturnCount++
			r.GrossSales = r.GrossSales.Add(sale.TotalAmount)
			r.ReturnsTotal = r.ReturnsTotal.Add(sale.TotalAmount)
			continue
		}
		r.TransactionCount++
		r.GrossSales = r.GrossSales.Add(sale.TotalAmount)
		r.Discounts = r.Discounts.Add(sale.DiscountAmount)
		for _, it := range sale.Items {
			r.ItemsSold += it.Quantity
			key := it.ProductName
			if it.ProductID != nil {
				key = it.ProductID.String()
			}
			p, ok := products[key]
			if !ok {
				p = &ProductSales{ProductID: it.ProductID, ProductName: it.ProductName, Amount: decimal.Zero}
				products[key] = p
			}
			p.Quantity += it.Quantity
			p.Amount = p.Amount.Add(it.LineTotal)
		}
	}
	for _, m := range movements {
		if m.Type == MovementNoSale {
			r.NoSaleCount++
		}
	}
	r.NetSales = r.GrossSales.Sub(r.ReturnsTotal).Sub(r.Discounts)
	r.TopProducts = topProducts(products, topN)
	return r
}

// topProducts orders by quantity, then by name so equal quantities always
// come out in the same order.
func topProducts(products map[string]*ProductSales, n int) []ProductSales {
	out := make([]ProductSales, 0, len(products))
	for _, p := range products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].ProductName < out[j].ProductName
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
