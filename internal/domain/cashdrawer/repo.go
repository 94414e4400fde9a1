package cashdrawer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// errDrawerBusy is returned by SessionRepository.Create when the drawer
// already has an open session.
var errDrawerBusy = errors.New("drawer already has an open session")

// LockMode selects the row lock taken on a session inside a transaction.
type LockMode int

const (
	// LockShare lets sales and movements run side by side while blocking a close.
	LockShare LockMode = iota
	// LockUpdate is taken by close and waits for every in-flight sale.
	LockUpdate
)

type SessionRepository interface {
	// NextNumber allocates the next per-pharmacy, per-day session sequence.
	NextNumber(ctx context.Context, pharmacyID uuid.UUID, day time.Time) (int, error)
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Session, error)
	// Lock reads the session under a row lock held until the transaction ends.
	Lock(ctx context.Context, pharmacyID, id uuid.UUID, mode LockMode) (*Session, error)
	// Current returns the open session on a drawer, or a not-found error.
	Current(ctx context.Context, pharmacyID uuid.UUID, drawerID string) (*Session, error)
	List(ctx context.Context, pharmacyID uuid.UUID, f SessionFilter, limit, offset int) ([]*Session, int, error)
	// Close writes the frozen totals if the session is still open.
	Close(ctx context.Context, s *Session) (bool, error)
}

type SaleRepository interface {
	Create(ctx context.Context, s *Sale) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Sale, error)
	// ListBySession returns every sale of the session with its items, oldest first.
	ListBySession(ctx context.Context, pharmacyID, sessionID uuid.UUID) ([]*Sale, error)
	// SetStatus changes status only if the sale is still in from.
	SetStatus(ctx context.Context, s *Sale, from SaleStatus) (bool, error)
}

type MovementRepository interface {
	Create(ctx context.Context, m *Movement) error
	ListBySession(ctx context.Context, pharmacyID, sessionID uuid.UUID) ([]*Movement, error)
}

// InvoiceLookup resolves the insurer total of a Chifa invoice.
type InvoiceLookup interface {
	ChifaTotal(ctx context.Context, pharmacyID, invoiceID uuid.UUID) (decimal.Decimal, error)
}
