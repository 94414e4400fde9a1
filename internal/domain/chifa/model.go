package chifa

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceSubmitted InvoiceStatus = "submitted"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceRejected  InvoiceStatus = "rejected"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	InvoicePending: true, InvoiceSubmitted: true, InvoicePaid: true, InvoiceRejected: true,
}

var validInsuranceTypes = map[string]bool{
	"cnas": true, "casnos": true, "military": true,
}

var validRelationships = map[string]bool{
	"self": true, "spouse": true, "child": true, "ascendant": true,
}

// Invoice is a Chifa claim for one insured beneficiary. Totals are the sums of
// the line splits and are never edited after creation.
type Invoice struct {
	ID                      uuid.UUID       `json:"id"`
	PharmacyID              uuid.UUID       `json:"pharmacy_id"`
	InvoiceSeq              int64           `json:"invoice_seq"`
	InvoiceNumber           string          `json:"invoice_number"`
	SaleID                  *uuid.UUID      `json:"sale_id,omitempty"`
	InsuredNumber           string          `json:"insured_number"`
	InsuredName             string          `json:"insured_name"`
	InsuredRank             *string         `json:"insured_rank,omitempty"`
	BeneficiaryName         *string         `json:"beneficiary_name,omitempty"`
	BeneficiaryRelationship string          `json:"beneficiary_relationship"`
	InsuranceType           string          `json:"insurance_type"`
	IsChronic               bool            `json:"is_chronic"`
	PrescriberName          *string         `json:"prescriber_name,omitempty"`
	PrescriberSpecialty     *string         `json:"prescriber_specialty,omitempty"`
	PrescriptionDate        *time.Time      `json:"prescription_date,omitempty"`
	Status                  InvoiceStatus   `json:"status"`
	BordereauID             *uuid.UUID      `json:"bordereau_id,omitempty"`
	TotalTarifReference     decimal.Decimal `json:"total_tarif_reference"`
	TotalChifa              decimal.Decimal `json:"total_chifa"`
	TotalPatient            decimal.Decimal `json:"total_patient"`
	TotalMajoration         decimal.Decimal `json:"total_majoration"`
	GrandTotal              decimal.Decimal `json:"grand_total"`
	CreatedBy               string          `json:"created_by"`
	SubmittedAt             *time.Time      `json:"submitted_at,omitempty"`
	PaidAt                  *time.Time      `json:"paid_at,omitempty"`
	RejectedAt              *time.Time      `json:"rejected_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
	Lines                   []InvoiceLine   `json:"lines,omitempty"`
}

func (inv *Invoice) setTotals(t Totals) {
	inv.TotalTarifReference = t.TotalTarifReference
	inv.TotalChifa = t.TotalChifa
	inv.TotalPatient = t.TotalPatient
	inv.TotalMajoration = t.TotalMajoration
	inv.GrandTotal = t.GrandTotal
}

// InvoiceLine is one billed product with its persisted split.
type InvoiceLine struct {
	ID                uuid.UUID           `json:"id"`
	InvoiceID         uuid.UUID           `json:"invoice_id"`
	LineNo            int                 `json:"line_no"`
	ProductID         *uuid.UUID          `json:"product_id,omitempty"`
	ProductName       string              `json:"product_name"`
	Quantity          int                 `json:"quantity"`
	UnitPrice         decimal.Decimal     `json:"unit_price"`
	TarifReference    decimal.NullDecimal `json:"tarif_reference"`
	ReimbursementRate decimal.Decimal     `json:"reimbursement_rate"`
	EffectiveRate     decimal.Decimal     `json:"effective_rate"`
	IsLocalProduct    bool                `json:"is_local_product"`
	IsChronicApplied  bool                `json:"is_chronic_applied"`
	ChifaAmount       decimal.Decimal     `json:"chifa_amount"`
	PatientAmount     decimal.Decimal     `json:"patient_amount"`
	MajorationAmount  decimal.Decimal     `json:"majoration_amount"`
	LineTotal         decimal.Decimal     `json:"line_total"`
}

func newInvoiceLine(no int, l Line, s Split, isChronic bool) InvoiceLine {
	il := InvoiceLine{
		LineNo:            no,
		ProductID:         l.ProductID,
		ProductName:       l.ProductName,
		Quantity:          l.Quantity,
		UnitPrice:         l.UnitPrice,
		ReimbursementRate: l.ReimbursementRate,
		EffectiveRate:     s.EffectiveRate,
		IsLocalProduct:    l.IsLocalProduct,
		IsChronicApplied:  isChronic,
		ChifaAmount:       s.ChifaAmount,
		PatientAmount:     s.PatientAmount,
		MajorationAmount:  s.MajorationAmount,
		LineTotal:         s.LineTotal,
	}
	if l.TarifSupplied {
		il.TarifReference = decimal.NullDecimal{Decimal: l.TarifReference, Valid: true}
	}
	return il
}

// CreateInvoiceInput is the sale context an invoice is built from.
type CreateInvoiceInput struct {
	SaleID                  *uuid.UUID  `json:"sale_id,omitempty"`
	InsuredNumber           string      `json:"insured_number"`
	InsuredName             string      `json:"insured_name"`
	InsuredRank             *string     `json:"insured_rank,omitempty"`
	BeneficiaryName         *string     `json:"beneficiary_name,omitempty"`
	BeneficiaryRelationship string      `json:"beneficiary_relationship"`
	InsuranceType           string      `json:"insurance_type"`
	IsChronic               bool        `json:"is_chronic"`
	PrescriberName          *string     `json:"prescriber_name,omitempty"`
	PrescriberSpecialty     *string     `json:"prescriber_specialty,omitempty"`
	PrescriptionDate        *time.Time  `json:"prescription_date,omitempty"`
	Lines                   []LineInput `json:"lines"`
}

type InvoiceFilter struct {
	Status        InvoiceStatus
	InsuredNumber string
	BordereauID   *uuid.UUID
	Unbatched     bool
	IsChronic     *bool
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

// Bordereau is the remittance batch as seen by this core. Its lifecycle is
// owned by the remittance service.
type Bordereau struct {
	ID              uuid.UUID `json:"id"`
	PharmacyID      uuid.UUID `json:"pharmacy_id"`
	BordereauNumber string    `json:"bordereau_number"`
	Status          string    `json:"status"`
}

// BordereauRef is a bordereau resolved for display.
type BordereauRef struct {
	ID              uuid.UUID `json:"id"`
	BordereauNumber string    `json:"bordereau_number"`
}

type RejectionStatus string

const (
	RejectionPending     RejectionStatus = "pending"
	RejectionCorrected   RejectionStatus = "corrected"
	RejectionResubmitted RejectionStatus = "resubmitted"
	RejectionWrittenOff  RejectionStatus = "written_off"
)

var validRejectionStatuses = map[RejectionStatus]bool{
	RejectionPending: true, RejectionCorrected: true, RejectionResubmitted: true, RejectionWrittenOff: true,
}

// Rejection records the insurer refusing a submitted invoice and how the
// pharmacy resolved it. Resolution fields are written once.
type Rejection struct {
	ID                      uuid.UUID       `json:"id"`
	PharmacyID              uuid.UUID       `json:"pharmacy_id"`
	InvoiceID               uuid.UUID       `json:"invoice_id"`
	OriginalBordereauID     *uuid.UUID      `json:"original_bordereau_id,omitempty"`
	ResubmissionBordereauID *uuid.UUID      `json:"resubmission_bordereau_id,omitempty"`
	RejectionCode           string          `json:"rejection_code"`
	RejectionMotif          string          `json:"rejection_motif"`
	RejectedAmount          decimal.Decimal `json:"rejected_amount"`
	Status                  RejectionStatus `json:"status"`
	CorrectedInvoiceID      *uuid.UUID      `json:"corrected_invoice_id,omitempty"`
	ResolvedAt              *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy              *string         `json:"resolved_by,omitempty"`
	ResolutionNotes         *string         `json:"resolution_notes,omitempty"`
	RejectedBy              string          `json:"rejected_by"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// RejectionView is a rejection joined with the display fields of its invoice
// and both bordereaux.
type RejectionView struct {
	Rejection
	InvoiceNumber         string          `json:"invoice_number"`
	InsuredNumber         string          `json:"insured_number"`
	InsuredName           string          `json:"insured_name"`
	InvoiceTotalChifa     decimal.Decimal `json:"invoice_total_chifa"`
	InvoiceGrandTotal     decimal.Decimal `json:"invoice_grand_total"`
	OriginalBordereau     *BordereauRef   `json:"original_bordereau,omitempty"`
	ResubmissionBordereau *BordereauRef   `json:"resubmission_bordereau,omitempty"`
	CorrectedInvoice      *string         `json:"corrected_invoice_number,omitempty"`
}

type RejectionFilter struct {
	Status      RejectionStatus
	BordereauID *uuid.UUID
	InvoiceID   *uuid.UUID
}

// StatusSummary aggregates rejections of one status.
type StatusSummary struct {
	Status RejectionStatus `json:"status"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type RejectInput struct {
	Code   string              `json:"rejection_code"`
	Motif  string              `json:"rejection_motif"`
	Amount decimal.NullDecimal `json:"rejected_amount"`
}

type CorrectInput struct {
	Invoice CreateInvoiceInput `json:"invoice"`
	Notes   *string            `json:"notes,omitempty"`
}

type ResubmitInput struct {
	BordereauID uuid.UUID `json:"bordereau_id"`
	Notes       *string   `json:"notes,omitempty"`
}

type WriteOffInput struct {
	Notes *string `json:"notes,omitempty"`
}
