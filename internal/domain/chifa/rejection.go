package chifa

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
	"github.com/fonthenet/sihadz-sub014/internal/platform/money"
)

// -- Remittance --

// SubmitToBordereau batches pending invoices into a bordereau. Either every
// invoice moves to submitted or none does.
func (s *Service) SubmitToBordereau(ctx context.Context, actor auth.Actor, bordereauID uuid.UUID, invoiceIDs []uuid.UUID) ([]*Invoice, error) {
	if len(invoiceIDs) == 0 {
		return nil, apperr.Invalid("invoice_ids", "at least one invoice is required")
	}
	seen := make(map[uuid.UUID]bool, len(invoiceIDs))
	for _, id := range invoiceIDs {
		if seen[id] {
			return nil, apperr.Invalid("invoice_ids", "invoice %s is listed twice", id)
		}
		seen[id] = true
	}

	var out []*Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bordereaux.GetByID(ctx, actor.PharmacyID, bordereauID)
		if err != nil {
			return err
		}
		for _, id := range invoiceIDs {
			inv, err := s.invoices.GetByID(ctx, actor.PharmacyID, id)
			if err != nil {
				return err
			}
			if inv.Status != InvoicePending || inv.BordereauID != nil {
				return apperr.Conflict("chifa invoice", "invoice %s is %s and cannot be added to bordereau %s",
					inv.InvoiceNumber, inv.Status, b.BordereauNumber)
			}
		}

		n, err := s.invoices.Submit(ctx, actor.PharmacyID, bordereauID, invoiceIDs, s.now())
		if err != nil {
			return err
		}
		if n != len(invoiceIDs) {
			return apperr.Conflict("chifa invoice", "%d of %d invoices were batched concurrently", len(invoiceIDs)-n, len(invoiceIDs))
		}

		out = make([]*Invoice, 0, len(invoiceIDs))
		for _, id := range invoiceIDs {
			inv, err := s.invoices.GetByID(ctx, actor.PharmacyID, id)
			if err != nil {
				return err
			}
			out = append(out, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("pharmacy_id", actor.PharmacyID.String()).
		Str("bordereau_id", bordereauID.String()).
		Int("invoices", len(out)).
		Msg("invoices submitted")
	return out, nil
}

func (s *Service) MarkInvoicePaid(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.transition(ctx, actor, id, InvoiceSubmitted, InvoicePaid); err != nil {
			return err
		}
		var err error
		inv, err = s.invoices.GetByID(ctx, actor.PharmacyID, id)
		return err
	})
	return inv, err
}

// transition moves an invoice from one status to another and reports the
// current status on a lost race.
func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, from, to InvoiceStatus) error {
	ok, err := s.invoices.Transition(ctx, actor.PharmacyID, id, from, to, s.now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	inv, err := s.invoices.GetByID(ctx, actor.PharmacyID, id)
	if err != nil {
		return err
	}
	return apperr.Conflict("chifa invoice", "invoice %s is %s, expected %s", inv.InvoiceNumber, inv.Status, from)
}

// RejectInvoice records the insurer refusing a submitted invoice. The invoice
// and its single rejection are written together.
func (s *Service) RejectInvoice(ctx context.Context, actor auth.Actor, id uuid.UUID, in RejectInput) (*Rejection, error) {
	code := strings.TrimSpace(in.Code)
	motif := strings.TrimSpace(in.Motif)
	if code == "" {
		return nil, apperr.Invalid("rejection_code", "is required")
	}
	if motif == "" {
		return nil, apperr.Invalid("rejection_motif", "is required")
	}
	if in.Amount.Valid {
		if err := money.Positive("rejected_amount", in.Amount.Decimal); err != nil {
			return nil, err
		}
	}

	var rej *Rejection
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetByID(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		amount := inv.TotalChifa
		if in.Amount.Valid {
			if in.Amount.Decimal.GreaterThan(inv.TotalChifa) {
				return apperr.Invalid("rejected_amount", "%s exceeds the invoice chifa total %s",
					in.Amount.Decimal.StringFixed(2), inv.TotalChifa.StringFixed(2))
			}
			amount = in.Amount.Decimal
		}
		if err := s.transition(ctx, actor, id, InvoiceSubmitted, InvoiceRejected); err != nil {
			return err
		}

		now := s.now()
		rej = &Rejection{
			ID:                  uuid.New(),
			PharmacyID:          actor.PharmacyID,
			InvoiceID:           inv.ID,
			OriginalBordereauID: inv.BordereauID,
			RejectionCode:       code,
			RejectionMotif:      motif,
			RejectedAmount:      amount,
			Status:              RejectionPending,
			RejectedBy:          actor.ActorID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return s.rejections.Create(ctx, rej)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("pharmacy_id", actor.PharmacyID.String()).
		Str("invoice_id", id.String()).
		Str("rejection_code", code).
		Msg("chifa invoice rejected")
	return rej, nil
}

// -- Rejection resolution --

// CorrectionResult is the corrected rejection together with the replacement
// invoice built for it.
type CorrectionResult struct {
	Rejection *Rejection `json:"rejection"`
	Invoice   *Invoice   `json:"invoice"`
}

// resolve stamps the resolution fields the first time a rejection leaves
// pending. Later steps only append notes.
func resolve(r *Rejection, actor auth.Actor, notes *string, at time.Time) {
	if r.ResolvedAt == nil {
		r.ResolvedAt = &at
		by := actor.ActorID
		r.ResolvedBy = &by
	}
	if n := trimmed(notes); n != nil {
		if r.ResolutionNotes == nil {
			r.ResolutionNotes = n
		} else {
			joined := *r.ResolutionNotes + "\n" + *n
			r.ResolutionNotes = &joined
		}
	}
	r.UpdatedAt = at
}

// update writes r if its stored status is still from.
func (s *Service) update(ctx context.Context, r *Rejection, from RejectionStatus) error {
	ok, err := s.rejections.Update(ctx, r, from)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("chifa rejection", "rejection %s changed concurrently, expected %s", r.ID, from)
	}
	return nil
}

func illegal(r *Rejection, to RejectionStatus) error {
	return apperr.Conflict("chifa rejection", "rejection %s is %s and cannot become %s", r.ID, r.Status, to)
}

// CorrectRejection builds a replacement invoice for a pending rejection. The
// replacement and the rejection update commit together.
func (s *Service) CorrectRejection(ctx context.Context, actor auth.Actor, id uuid.UUID, in CorrectInput) (*CorrectionResult, error) {
	corrected, err := s.buildInvoice(actor.PharmacyID, in.Invoice)
	if err != nil {
		s.logFailure(err, "correct rejection")
		return nil, err
	}

	var rej *Rejection
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rej, err = s.rejections.GetByID(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		if rej.Status != RejectionPending {
			return illegal(rej, RejectionCorrected)
		}
		if err := s.persistInvoice(ctx, actor, corrected); err != nil {
			return err
		}

		rej.Status = RejectionCorrected
		rej.CorrectedInvoiceID = &corrected.ID
		resolve(rej, actor, in.Notes, s.now())
		return s.update(ctx, rej, RejectionPending)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("rejection_id", id.String()).
		Str("corrected_invoice", corrected.InvoiceNumber).
		Msg("chifa rejection corrected")
	return &CorrectionResult{Rejection: rej, Invoice: corrected}, nil
}

// ResubmitRejection sends a rejection back to the insurer in a new bordereau.
// From corrected, the replacement invoice is batched into that bordereau in
// the same transaction.
func (s *Service) ResubmitRejection(ctx context.Context, actor auth.Actor, id uuid.UUID, in ResubmitInput) (*Rejection, error) {
	if in.BordereauID == uuid.Nil {
		return nil, apperr.Invalid("bordereau_id", "is required")
	}

	var rej *Rejection
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rej, err = s.rejections.GetByID(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		from := rej.Status
		if from != RejectionPending && from != RejectionCorrected {
			return illegal(rej, RejectionResubmitted)
		}
		if rej.OriginalBordereauID != nil && *rej.OriginalBordereauID == in.BordereauID {
			return apperr.Invalid("bordereau_id", "must differ from the bordereau the invoice was rejected in")
		}
		b, err := s.bordereaux.GetByID(ctx, actor.PharmacyID, in.BordereauID)
		if err != nil {
			return err
		}

		now := s.now()
		if from == RejectionCorrected && rej.CorrectedInvoiceID != nil {
			n, err := s.invoices.Submit(ctx, actor.PharmacyID, b.ID, []uuid.UUID{*rej.CorrectedInvoiceID}, now)
			if err != nil {
				return err
			}
			if n != 1 {
				return apperr.Conflict("chifa invoice", "corrected invoice %s is no longer pending", *rej.CorrectedInvoiceID)
			}
		}

		rej.Status = RejectionResubmitted
		rej.ResubmissionBordereauID = &b.ID
		resolve(rej, actor, in.Notes, now)
		return s.update(ctx, rej, from)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("rejection_id", id.String()).
		Str("bordereau_id", in.BordereauID.String()).
		Msg("chifa rejection resubmitted")
	return rej, nil
}

// WriteOffRejection abandons the claim. The poster is told after commit; a
// poster failure does not undo the write-off.
func (s *Service) WriteOffRejection(ctx context.Context, actor auth.Actor, id uuid.UUID, in WriteOffInput) (*Rejection, error) {
	var rej *Rejection
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rej, err = s.rejections.GetByID(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		if rej.Status != RejectionPending {
			return illegal(rej, RejectionWrittenOff)
		}
		rej.Status = RejectionWrittenOff
		resolve(rej, actor, in.Notes, s.now())
		return s.update(ctx, rej, RejectionPending)
	})
	if err != nil {
		return nil, err
	}

	if err := s.poster.PostWriteOff(ctx, rej); err != nil {
		s.logger.Error().Err(err).Str("rejection_id", id.String()).Msg("write-off posting failed")
	}
	return rej, nil
}

func (s *Service) GetRejection(ctx context.Context, actor auth.Actor, id uuid.UUID) (*RejectionView, error) {
	return s.rejections.GetView(ctx, actor.PharmacyID, id)
}

func (s *Service) ListRejections(ctx context.Context, actor auth.Actor, f RejectionFilter, limit, offset int) ([]*RejectionView, int, error) {
	if f.Status != "" && !validRejectionStatuses[f.Status] {
		return nil, 0, apperr.Invalid("status", "unknown rejection status %q", f.Status)
	}
	return s.rejections.List(ctx, actor.PharmacyID, f, limit, offset)
}

func (s *Service) RejectionSummary(ctx context.Context, actor auth.Actor) ([]StatusSummary, error) {
	return s.rejections.Summary(ctx, actor.PharmacyID)
}
