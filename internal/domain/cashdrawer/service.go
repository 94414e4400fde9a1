package cashdrawer

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
	"github.com/fonthenet/sihadz-sub014/internal/platform/money"
)

type Service struct {
	sessions  SessionRepository
	sales     SaleRepository
	movements MovementRepository
	invoices  InvoiceLookup
	tx        db.Transactor
	topN      int
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(sessions SessionRepository, sales SaleRepository, movements MovementRepository, invoices InvoiceLookup, tx db.Transactor, topN int, logger zerolog.Logger) *Service {
	if topN <= 0 {
		topN = 10
	}
	return &Service{
		sessions:  sessions,
		sales:     sales,
		movements: movements,
		invoices:  invoices,
		tx:        tx,
		topN:      topN,
		logger:    logger.With().Str("component", "cashdrawer").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

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

func displayName(a auth.Actor) *string {
	if a.DisplayName == "" {
		return nil
	}
	n := a.DisplayName
	return &n
}

// -- Sessions --

func (s *Service) OpenSession(ctx context.Context, actor auth.Actor, in OpenInput) (*Session, error) {
	drawer := strings.TrimSpace(in.DrawerID)
	if drawer == "" {
		return nil, apperr.Invalid("drawer_id", "is required")
	}
	if len(drawer) > 64 {
		return nil, apperr.Invalid("drawer_id", "must be at most 64 characters")
	}
	if err := money.Scale("opening_balance", in.OpeningBalance); err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:             uuid.New(),
		PharmacyID:     actor.PharmacyID,
		DrawerID:       drawer,
		Status:         SessionOpen,
		OpenedAt:       now,
		OpenedBy:       actor.ActorID,
		OpenedByName:   displayName(actor),
		OpeningBalance: in.OpeningBalance,
		OpeningNotes:   trimmed(in.Notes),
		CreatedAt:      now,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		seq, err := s.sessions.NextNumber(ctx, actor.PharmacyID, now)
		if err != nil {
			return err
		}
		sess.SessionNumber = fmt.Sprintf("CS-%s-%03d", now.Format("20060102"), seq)
		return s.sessions.Create(ctx, sess)
	})
	if errors.Is(err, errDrawerBusy) {
		return nil, s.drawerBusy(ctx, actor, drawer)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("pharmacy_id", actor.PharmacyID.String()).
		Str("drawer_id", drawer).
		Str("session_number", sess.SessionNumber).
		Msg("cash session opened")
	return sess, nil
}

// drawerBusy names the session that holds the drawer. It runs after the
// failed transaction has rolled back.
func (s *Service) drawerBusy(ctx context.Context, actor auth.Actor, drawer string) error {
	ce := &apperr.ConflictError{
		Resource: "cash session",
		Message:  fmt.Sprintf("drawer %s already has an open session", drawer),
	}
	if cur, err := s.sessions.Current(ctx, actor.PharmacyID, drawer); err == nil {
		ce.ExistingID = cur.ID.String()
		ce.ExistingRef = cur.SessionNumber
	}
	return ce
}

// CurrentSession reads the open session of a drawer from storage each time.
func (s *Service) CurrentSession(ctx context.Context, actor auth.Actor, drawerID string) (*Session, error) {
	drawer := strings.TrimSpace(drawerID)
	if drawer == "" {
		return nil, apperr.Invalid("drawer_id", "is required")
	}
	return s.sessions.Current(ctx, actor.PharmacyID, drawer)
}

func (s *Service) GetSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Session, error) {
	return s.sessions.GetByID(ctx, actor.PharmacyID, id)
}

func (s *Service) ListSessions(ctx context.Context, actor auth.Actor, f SessionFilter, limit, offset int) ([]*Session, int, error) {
	if f.Status != "" && f.Status != SessionOpen && f.Status != SessionClosed {
		return nil, 0, apperr.Invalid("status", "unknown session status %q", f.Status)
	}
	return s.sessions.List(ctx, actor.PharmacyID, f, limit, offset)
}

func sessionClosed(sess *Session) error {
	return &apperr.ConflictError{
		Resource:    "cash session",
		ExistingID:  sess.ID.String(),
		ExistingRef: sess.SessionNumber,
		Message:     "session is closed",
	}
}

// CloseSession freezes the reconciled totals. The session row is locked for
// update first, so every sale already in flight is either committed and
// counted or waits and then finds the session closed.
func (s *Service) CloseSession(ctx context.Context, actor auth.Actor, id uuid.UUID, in CloseInput) (*Session, error) {
	if !in.CountedCash.Valid {
		return nil, apperr.Invalid("counted_cash", "is required")
	}
	fields := []struct {
		name string
		v    decimal.NullDecimal
	}{
		{"counted_cash", in.CountedCash},
		{"counted_cards", in.CountedCards},
		{"counted_cheques", in.CountedCheques},
		{"counted_mobile", in.CountedMobile},
	}
	for _, f := range fields {
		if f.v.Valid {
			if err := money.NonNegative(f.name, f.v.Decimal); err != nil {
				return nil, err
			}
		}
	}

	var sess *Session
	var rec Reconciliation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.Lock(ctx, actor.PharmacyID, id, LockUpdate)
		if err != nil {
			return err
		}
		if !sess.IsOpen() {
			return sessionClosed(sess)
		}
		sales, err := s.sales.ListBySession(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		movements, err := s.movements.ListBySession(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		rec = Reconcile(sess.OpeningBalance, sales, movements)

		now := s.now()
		by := actor.ActorID
		sess.Status = SessionClosed
		sess.ClosedAt = &now
		sess.ClosedBy = &by
		sess.ClosedByName = displayName(actor)
		sess.CountedCash = in.CountedCash
		sess.CountedCards = in.CountedCards
		sess.CountedCheques = in.CountedCheques
		sess.CountedMobile = in.CountedMobile
		sess.SystemCash = decimal.NewNullDecimal(rec.SystemCash)
		sess.SystemCards = decimal.NewNullDecimal(rec.Cards)
		sess.SystemCheques = decimal.NewNullDecimal(rec.Cheques)
		sess.SystemMobile = decimal.NewNullDecimal(rec.Mobile)
		sess.SystemCredit = decimal.NewNullDecimal(rec.Credit)
		sess.SystemChifa = decimal.NewNullDecimal(rec.Chifa)
		sess.VarianceCash = decimal.NewNullDecimal(rec.Variance(in.CountedCash.Decimal))
		sess.ClosingNotes = trimmed(in.Notes)

		ok, err := s.sessions.Close(ctx, sess)
		if err != nil {
			return err
		}
		if !ok {
			return sessionClosed(sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	variance := sess.VarianceCash.Decimal
	ev := s.logger.Info()
	if class := ClassifyVariance(variance, rec.SystemCash); class == VarianceMajor {
		ev = s.logger.Warn()
	}
	ev.Str("pharmacy_id", actor.PharmacyID.String()).
		Str("session_number", sess.SessionNumber).
		Str("system_cash", rec.SystemCash.StringFixed(money.Places)).
		Str("variance_cash", variance.StringFixed(money.Places)).
		Msg("cash session closed")
	return sess, nil
}

// -- Sales --

func validateSale(in SaleInput) error {
	amounts := []struct {
		name string
		v    decimal.Decimal
	}{
		{"total_amount", in.TotalAmount},
		{"discount_amount", in.DiscountAmount},
		{"paid_cash", in.PaidCash},
		{"paid_card", in.PaidCard},
		{"paid_cheque", in.PaidCheque},
		{"paid_mobile", in.PaidMobile},
		{"paid_credit", in.PaidCredit},
		{"chifa_total", in.ChifaTotal},
		{"change_given", in.ChangeGiven},
	}
	for _, a := range amounts {
		if err := money.NonNegative(a.name, a.v); err != nil {
			return err
		}
	}
	if in.ChangeGiven.GreaterThan(in.PaidCash) {
		return apperr.Invalid("change_given", "%s exceeds paid cash %s",
			in.ChangeGiven.StringFixed(money.Places), in.PaidCash.StringFixed(money.Places))
	}
	if in.ChifaTotal.Add(in.DiscountAmount).GreaterThan(in.TotalAmount) {
		return apperr.Invalid("chifa_total", "chifa total and discount exceed the sale total")
	}
	if in.ChifaTotal.IsPositive() && in.ChifaInvoiceID == nil {
		return apperr.Invalid("chifa_invoice_id", "is required when the sale carries a chifa total")
	}

	tendered := money.Sum(in.PaidCash, in.PaidCard, in.PaidCheque, in.PaidMobile, in.PaidCredit)
	due := in.TotalAmount.Sub(in.ChifaTotal).Sub(in.DiscountAmount)
	if !tendered.Sub(in.ChangeGiven).Equal(due) {
		return apperr.Invalid("tenders", "tendered %s minus change %s does not equal amount due %s",
			tendered.StringFixed(money.Places), in.ChangeGiven.StringFixed(money.Places), due.StringFixed(money.Places))
	}

	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductName) == "" {
			return apperr.Invalid(fmt.Sprintf("items[%d].product_name", i), "is required")
		}
		if it.Quantity <= 0 {
			return apperr.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be positive, got %d", it.Quantity)
		}
		if err := money.NonNegative(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

// RecordSale rings up a sale on an open session. The session is read under a
// share lock so a concurrent close cannot freeze totals without it.
func (s *Service) RecordSale(ctx context.Context, actor auth.Actor, sessionID uuid.UUID, in SaleInput) (*Sale, error) {
	if err := validateSale(in); err != nil {
		return nil, err
	}

	now := s.now()
	sale := &Sale{
		ID:             uuid.New(),
		PharmacyID:     actor.PharmacyID,
		SessionID:      sessionID,
		Status:         SaleCompleted,
		TotalAmount:    in.TotalAmount,
		DiscountAmount: in.DiscountAmount,
		PaidCash:       in.PaidCash,
		PaidCard:       in.PaidCard,
		PaidCheque:     in.PaidCheque,
		PaidMobile:     in.PaidMobile,
		PaidCredit:     in.PaidCredit,
		ChifaTotal:     in.ChifaTotal,
		ChangeGiven:    in.ChangeGiven,
		ChifaInvoiceID: in.ChifaInvoiceID,
		CustomerName:   trimmed(in.CustomerName),
		CreatedBy:      actor.ActorID,
		CreatedAt:      now,
	}
	for _, it := range in.Items {
		sale.Items = append(sale.Items, SaleItem{
			ID:          uuid.New(),
			SaleID:      sale.ID,
			ProductID:   it.ProductID,
			ProductName: strings.TrimSpace(it.ProductName),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sess, err := s.sessions.Lock(ctx, actor.PharmacyID, sessionID, LockShare)
		if err != nil {
			return err
		}
		if !sess.IsOpen() {
			return sessionClosed(sess)
		}
		if in.ChifaInvoiceID != nil {
			total, err := s.invoices.ChifaTotal(ctx, actor.PharmacyID, *in.ChifaInvoiceID)
			if err != nil {
				return err
			}
			if !total.Equal(in.ChifaTotal) {
				return apperr.Invalid("chifa_total", "%s does not match the invoice chifa total %s",
					in.ChifaTotal.StringFixed(money.Places), total.StringFixed(money.Places))
			}
		}
		return s.sales.Create(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Sale, error) {
	return s.sales.GetByID(ctx, actor.PharmacyID, id)
}

func (s *Service) ListSales(ctx context.Context, actor auth.Actor, sessionID uuid.UUID) ([]*Sale, error) {
	if _, err := s.sessions.GetByID(ctx, actor.PharmacyID, sessionID); err != nil {
		return nil, err
	}
	return s.sales.ListBySession(ctx, actor.PharmacyID, sessionID)
}

// VoidSale and ReturnSale are allowed after the session closed. Frozen
// session totals are not recomputed.
func (s *Service) VoidSale(ctx context.Context, actor auth.Actor, id uuid.UUID, in StatusInput) (*Sale, error) {
	return s.setSaleStatus(ctx, actor, id, SaleVoided, in)
}

func (s *Service) ReturnSale(ctx context.Context, actor auth.Actor, id uuid.UUID, in StatusInput) (*Sale, error) {
	return s.setSaleStatus(ctx, actor, id, SaleReturned, in)
}

func (s *Service) setSaleStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, to SaleStatus, in StatusInput) (*Sale, error) {
	var sale *Sale
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		sale, err = s.sales.GetByID(ctx, actor.PharmacyID, id)
		if err != nil {
			return err
		}
		if sale.Status != SaleCompleted {
			return apperr.Conflict("sale", "sale %s is %s and cannot be %s", sale.ID, sale.Status, to)
		}
		now := s.now()
		by := actor.ActorID
		sale.Status = to
		sale.StatusReason = trimmed(in.Reason)
		sale.StatusChangedAt = &now
		sale.StatusChangedBy = &by

		ok, err := s.sales.SetStatus(ctx, sale, SaleCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("sale", "sale %s changed concurrently", sale.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("sale_id", id.String()).
		Str("status", string(to)).
		Msg("sale status changed")
	return sale, nil
}

// -- Movements --

func (s *Service) AddMovement(ctx context.Context, actor auth.Actor, sessionID uuid.UUID, in MovementInput) (*Movement, error) {
	amount := in.Amount
	switch in.Type {
	case MovementCashIn, MovementCashOut:
		if err := money.Positive("amount", amount); err != nil {
			return nil, err
		}
		if in.Type == MovementCashOut {
			amount = amount.Neg()
		}
	case MovementNoSale:
		if !amount.IsZero() {
			return nil, apperr.Invalid("amount", "must be zero for no_sale")
		}
		amount = decimal.Zero
	default:
		return nil, apperr.Invalid("type", "unknown movement type %q", in.Type)
	}
	reason := trimmed(in.Reason)
	if in.Type == MovementCashOut && reason == nil {
		return nil, apperr.Invalid("reason", "is required for cash_out")
	}

	m := &Movement{
		ID:         uuid.New(),
		PharmacyID: actor.PharmacyID,
		SessionID:  sessionID,
		Type:       in.Type,
		Amount:     amount,
		Reason:     reason,
		CreatedBy:  actor.ActorID,
		CreatedAt:  s.now(),
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sess, err := s.sessions.Lock(ctx, actor.PharmacyID, sessionID, LockShare)
		if err != nil {
			return err
		}
		if !sess.IsOpen() {
			return sessionClosed(sess)
		}
		return s.movements.Create(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListMovements(ctx context.Context, actor auth.Actor, sessionID uuid.UUID) ([]*Movement, error) {
	if _, err := s.sessions.GetByID(ctx, actor.PharmacyID, sessionID); err != nil {
		return nil, err
	}
	return s.movements.ListBySession(ctx, actor.PharmacyID, sessionID)
}
