package cashdrawer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is one shift on a physical drawer. It is created on open and
// changed exactly once, at close, when the system totals are frozen.
type Session struct {
	ID             uuid.UUID       `json:"id"`
	PharmacyID     uuid.UUID       `json:"pharmacy_id"`
	DrawerID       string          `json:"drawer_id"`
	SessionNumber  string          `json:"session_number"`
	Status         SessionStatus   `json:"status"`
	OpenedAt       time.Time       `json:"opened_at"`
	OpenedBy       string          `json:"opened_by"`
	OpenedByName   *string         `json:"opened_by_name,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	ClosedBy       *string         `json:"closed_by,omitempty"`
	ClosedByName   *string         `json:"closed_by_name,omitempty"`

	CountedCash    decimal.NullDecimal `json:"counted_cash"`
	CountedCards   decimal.NullDecimal `json:"counted_cards"`
	CountedCheques decimal.NullDecimal `json:"counted_cheques"`
	CountedMobile  decimal.NullDecimal `json:"counted_mobile"`
	SystemCash     decimal.NullDecimal `json:"system_cash"`
	SystemCards    decimal.NullDecimal `json:"system_cards"`
	SystemCheques  decimal.NullDecimal `json:"system_cheques"`
	SystemMobile   decimal.NullDecimal `json:"system_mobile"`
	SystemCredit   decimal.NullDecimal `json:"system_credit"`
	SystemChifa    decimal.NullDecimal `json:"system_chifa"`
	VarianceCash   decimal.NullDecimal `json:"variance_cash"`

	OpeningNotes *string   `json:"opening_notes,omitempty"`
	ClosingNotes *string   `json:"closing_notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Session) IsOpen() bool { return s.Status == SessionOpen }

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleVoided    SaleStatus = "voided"
	SaleReturned  SaleStatus = "returned"
)

// Sale is one checkout rung up on a session. Only completed sales count
// towards the drawer totals.
type Sale struct {
	ID              uuid.UUID       `json:"id"`
	PharmacyID      uuid.UUID       `json:"pharmacy_id"`
	SessionID       uuid.UUID       `json:"session_id"`
	Status          SaleStatus      `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	PaidCash        decimal.Decimal `json:"paid_cash"`
	PaidCard        decimal.Decimal `json:"paid_card"`
	PaidCheque      decimal.Decimal `json:"paid_cheque"`
	PaidMobile      decimal.Decimal `json:"paid_mobile"`
	PaidCredit      decimal.Decimal `json:"paid_credit"`
	ChifaTotal      decimal.Decimal `json:"chifa_total"`
	ChangeGiven     decimal.Decimal `json:"change_given"`
	ChifaInvoiceID  *uuid.UUID      `json:"chifa_invoice_id,omitempty"`
	CustomerName    *string         `json:"customer_name,omitempty"`
	CreatedBy       string          `json:"created_by"`
	StatusReason    *string         `json:"status_reason,omitempty"`
	StatusChangedAt *time.Time      `json:"status_changed_at,omitempty"`
	StatusChangedBy *string         `json:"status_changed_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []SaleItem      `json:"items,omitempty"`
}

// Tendered is the sum of every payment method on the sale.
func (s *Sale) Tendered() decimal.Decimal {
	return s.PaidCash.Add(s.PaidCard).Add(s.PaidCheque).Add(s.PaidMobile).Add(s.PaidCredit)
}

type SaleItem struct {
	ID          uuid.UUID       `json:"id"`
	SaleID      uuid.UUID       `json:"sale_id"`
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type MovementType string

const (
	MovementCashIn  MovementType = "cash_in"
	MovementCashOut MovementType = "cash_out"
	MovementNoSale  MovementType = "no_sale"
)

// Movement is a non-sale drawer event. Amount is signed: cash_out is stored
// negative and no_sale is always zero.
type Movement struct {
	ID         uuid.UUID       `json:"id"`
	PharmacyID uuid.UUID       `json:"pharmacy_id"`
	SessionID  uuid.UUID       `json:"session_id"`
	Type       MovementType    `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     *string         `json:"reason,omitempty"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// -- Inputs --

type OpenInput struct {
	DrawerID       string          `json:"drawer_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Notes          *string         `json:"notes,omitempty"`
}

type SaleItemInput struct {
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type SaleInput struct {
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaidCash       decimal.Decimal `json:"paid_cash"`
	PaidCard       decimal.Decimal `json:"paid_card"`
	PaidCheque     decimal.Decimal `json:"paid_cheque"`
	PaidMobile     decimal.Decimal `json:"paid_mobile"`
	PaidCredit     decimal.Decimal `json:"paid_credit"`
	ChifaTotal     decimal.Decimal `json:"chifa_total"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	ChifaInvoiceID *uuid.UUID      `json:"chifa_invoice_id,omitempty"`
	CustomerName   *string         `json:"customer_name,omitempty"`
	Items          []SaleItemInput `json:"items"`
}

type StatusInput struct {
	Reason *string `json:"reason,omitempty"`
}

type MovementInput struct {
	Type   MovementType    `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Reason *string         `json:"reason,omitempty"`
}

type CloseInput struct {
	CountedCash    decimal.NullDecimal `json:"counted_cash"`
	CountedCards   decimal.NullDecimal `json:"counted_cards"`
	CountedCheques decimal.NullDecimal `json:"counted_cheques"`
	CountedMobile  decimal.NullDecimal `json:"counted_mobile"`
	Notes          *string             `json:"notes,omitempty"`
}

type SessionFilter struct {
	DrawerID string
	Status   SessionStatus
}
