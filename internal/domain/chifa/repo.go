package chifa

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Every lookup is scoped by pharmacy: a record owned by another pharmacy is
// reported exactly like a missing one.

type InvoiceRepository interface {
	// NextSeq allocates the next invoice sequence number for the pharmacy.
	// Numbers are strictly increasing; a rolled-back transaction does not
	// consume one.
	NextSeq(ctx context.Context, pharmacyID uuid.UUID) (int64, error)
	// Create inserts the invoice and all of its lines.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Invoice, error)
	List(ctx context.Context, pharmacyID uuid.UUID, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	// Submit moves pending, unbatched invoices into a bordereau and returns
	// how many rows changed. Invoices in any other state are left untouched.
	Submit(ctx context.Context, pharmacyID, bordereauID uuid.UUID, ids []uuid.UUID, at time.Time) (int, error)
	// Transition changes status only if the invoice is still in from.
	Transition(ctx context.Context, pharmacyID, id uuid.UUID, from, to InvoiceStatus, at time.Time) (bool, error)
}

type BordereauRepository interface {
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Bordereau, error)
}

type RejectionRepository interface {
	Create(ctx context.Context, r *Rejection) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Rejection, error)
	GetView(ctx context.Context, pharmacyID, id uuid.UUID) (*RejectionView, error)
	List(ctx context.Context, pharmacyID uuid.UUID, f RejectionFilter, limit, offset int) ([]*RejectionView, int, error)
	// Update writes the resolution fields only if the stored status is still
	// from.
	Update(ctx context.Context, r *Rejection, from RejectionStatus) (bool, error)
	Summary(ctx context.Context, pharmacyID uuid.UUID) ([]StatusSummary, error)
}
