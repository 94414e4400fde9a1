package chifa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
	"github.com/fonthenet/sihadz-sub014/internal/platform/db"
)

type Service struct {
	invoices   InvoiceRepository
	bordereaux BordereauRepository
	rejections RejectionRepository
	tx         db.Transactor
	policy     Policy
	poster     WriteOffPoster
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(inv InvoiceRepository, br BordereauRepository, rej RejectionRepository, tx db.Transactor, policy Policy, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "chifa").Logger()
	return &Service{
		invoices:   inv,
		bordereaux: br,
		rejections: rej,
		tx:         tx,
		policy:     policy,
		poster:     NewLogPoster(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetWriteOffPoster replaces the collaborator notified after a write-off.
func (s *Service) SetWriteOffPoster(p WriteOffPoster) {
	if p != nil {
		s.poster = p
	}
}

func (s *Service) Policy() Policy { return s.policy }

// -- Invoice builder --

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

// buildInvoice validates in and computes every line split and the invoice
// totals. Nothing is numbered or persisted.
func (s *Service) buildInvoice(pharmacyID uuid.UUID, in CreateInvoiceInput) (*Invoice, error) {
	inv := &Invoice{
		PharmacyID:              pharmacyID,
		SaleID:                  in.SaleID,
		InsuredNumber:           strings.TrimSpace(in.InsuredNumber),
		InsuredName:             strings.TrimSpace(in.InsuredName),
		InsuredRank:             trimmed(in.InsuredRank),
		BeneficiaryName:         trimmed(in.BeneficiaryName),
		BeneficiaryRelationship: strings.ToLower(strings.TrimSpace(in.BeneficiaryRelationship)),
		InsuranceType:           strings.ToLower(strings.TrimSpace(in.InsuranceType)),
		IsChronic:               in.IsChronic,
		PrescriberName:          trimmed(in.PrescriberName),
		PrescriberSpecialty:     trimmed(in.PrescriberSpecialty),
		PrescriptionDate:        in.PrescriptionDate,
		Status:                  InvoicePending,
	}
	if inv.InsuredNumber == "" {
		return nil, apperr.Invalid("insured_number", "is required")
	}
	if inv.InsuredName == "" {
		return nil, apperr.Invalid("insured_name", "is required")
	}
	if inv.InsuranceType == "" {
		inv.InsuranceType = "cnas"
	}
	if !validInsuranceTypes[inv.InsuranceType] {
		return nil, apperr.Invalid("insurance_type", "unknown insurance type %q", inv.InsuranceType)
	}
	if inv.BeneficiaryRelationship == "" {
		inv.BeneficiaryRelationship = "self"
	}
	if !validRelationships[inv.BeneficiaryRelationship] {
		return nil, apperr.Invalid("beneficiary_relationship", "unknown relationship %q", inv.BeneficiaryRelationship)
	}
	if inv.BeneficiaryRelationship != "self" && inv.BeneficiaryName == nil {
		return nil, apperr.Invalid("beneficiary_name", "is required when the beneficiary is not the insured")
	}

	lines, err := ToLines(in.Lines)
	if err != nil {
		return nil, err
	}
	splits, totals, err := s.policy.SplitLines(lines, in.IsChronic)
	if err != nil {
		return nil, err
	}

	inv.Lines = make([]InvoiceLine, len(lines))
	for i := range lines {
		inv.Lines[i] = newInvoiceLine(i+1, lines[i], splits[i], in.IsChronic)
	}
	inv.setTotals(totals)
	return inv, nil
}

// PreviewInvoice returns the invoice CreateInvoice would persist, without an
// id or number.
func (s *Service) PreviewInvoice(ctx context.Context, actor auth.Actor, in CreateInvoiceInput) (*Invoice, error) {
	inv, err := s.buildInvoice(actor.PharmacyID, in)
	if err != nil {
		s.logFailure(err, "preview invoice")
		return nil, err
	}
	return inv, nil
}

func (s *Service) CreateInvoice(ctx context.Context, actor auth.Actor, in CreateInvoiceInput) (*Invoice, error) {
	inv, err := s.buildInvoice(actor.PharmacyID, in)
	if err != nil {
		s.logFailure(err, "create invoice")
		return nil, err
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.persistInvoice(ctx, actor, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("pharmacy_id", actor.PharmacyID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("total_chifa", inv.TotalChifa.StringFixed(2)).
		Msg("chifa invoice created")
	return inv, nil
}

// persistInvoice numbers inv and writes it with its lines. It must run inside
// a transaction so a failed insert gives its number back.
func (s *Service) persistInvoice(ctx context.Context, actor auth.Actor, inv *Invoice) error {
	seq, err := s.invoices.NextSeq(ctx, actor.PharmacyID)
	if err != nil {
		return err
	}
	now := s.now()
	inv.ID = uuid.New()
	inv.InvoiceSeq = seq
	inv.InvoiceNumber = fmt.Sprintf("CHF-%08d", seq)
	inv.CreatedBy = actor.ActorID
	inv.CreatedAt = now
	inv.UpdatedAt = now
	for i := range inv.Lines {
		inv.Lines[i].ID = uuid.New()
		inv.Lines[i].InvoiceID = inv.ID
	}
	return s.invoices.Create(ctx, inv)
}

func (s *Service) GetInvoice(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, actor.PharmacyID, id)
}

func (s *Service) ListInvoices(ctx context.Context, actor auth.Actor, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	if f.Status != "" && !validInvoiceStatuses[f.Status] {
		return nil, 0, apperr.Invalid("status", "unknown invoice status %q", f.Status)
	}
	return s.invoices.List(ctx, actor.PharmacyID, f, limit, offset)
}

// ChifaTotal returns the insurer total of an invoice owned by pharmacyID. The
// cash drawer uses it to check the chifa share recorded on a sale.
func (s *Service) ChifaTotal(ctx context.Context, pharmacyID, invoiceID uuid.UUID) (decimal.Decimal, error) {
	inv, err := s.invoices.GetByID(ctx, pharmacyID, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.TotalChifa, nil
}

func (s *Service) logFailure(err error, op string) {
	if errors.Is(err, apperr.ErrInvariant) {
		s.logger.Error().Err(err).Str("op", op).Msg("split invariant violated")
	}
}
