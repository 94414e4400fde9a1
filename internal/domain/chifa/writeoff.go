package chifa

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fonthenet/sihadz-sub014/internal/platform/db"
	"github.com/fonthenet/sihadz-sub014/internal/platform/webhook"
)

// WriteOffPoster is told about every committed write-off so the amount can be
// booked as a loss elsewhere.
type WriteOffPoster interface {
	PostWriteOff(ctx context.Context, r *Rejection) error
}

type logPoster struct{ logger zerolog.Logger }

// NewLogPoster returns a poster that only records the write-off in the log.
func NewLogPoster(logger zerolog.Logger) WriteOffPoster {
	return &logPoster{logger: logger}
}

func (p *logPoster) PostWriteOff(_ context.Context, r *Rejection) error {
	p.logger.Info().
		Str("pharmacy_id", r.PharmacyID.String()).
		Str("rejection_id", r.ID.String()).
		Str("invoice_id", r.InvoiceID.String()).
		Str("amount", r.RejectedAmount.StringFixed(2)).
		Msg("chifa rejection written off")
	return nil
}

// EventSender is satisfied by *webhook.Sender.
type EventSender interface {
	Send(ctx context.Context, event webhook.Event) error
}

// EventWrittenOff is the event type posted for each write-off.
const EventWrittenOff = "chifa.rejection.written_off"

type writeOffEvent struct {
	PharmacyID     string  `json:"pharmacy_id"`
	RejectionID    string  `json:"rejection_id"`
	InvoiceID      string  `json:"invoice_id"`
	RejectionCode  string  `json:"rejection_code"`
	Amount         string  `json:"amount"`
	ResolvedBy     *string `json:"resolved_by,omitempty"`
	ResolutionNote *string `json:"resolution_notes,omitempty"`
}

type webhookPoster struct {
	sender EventSender
	logger zerolog.Logger
}

// NewWebhookPoster posts each write-off to the accounting endpoint behind
// sender and logs it as well.
func NewWebhookPoster(sender EventSender, logger zerolog.Logger) WriteOffPoster {
	return &webhookPoster{sender: sender, logger: logger}
}

func (p *webhookPoster) PostWriteOff(ctx context.Context, r *Rejection) error {
	ev, err := webhook.NewEvent(EventWrittenOff, "chifa_rejection", r.ID.String(), writeOffEvent{
		PharmacyID:     r.PharmacyID.String(),
		RejectionID:    r.ID.String(),
		InvoiceID:      r.InvoiceID.String(),
		RejectionCode:  r.RejectionCode,
		Amount:         r.RejectedAmount.StringFixed(2),
		ResolvedBy:     r.ResolvedBy,
		ResolutionNote: r.ResolutionNotes,
	})
	if err != nil {
		return err
	}
	ev.TenantID = db.TenantFromContext(ctx)
	if err := p.sender.Send(ctx, ev); err != nil {
		return err
	}
	p.logger.Info().Str("rejection_id", r.ID.String()).Str("event_id", ev.ID).Msg("write-off posted")
	return nil
}
