package cashdrawer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
)

type memState struct {
	counters  map[string]int
	sessions  map[uuid.UUID]Session
	sales     map[uuid.UUID]Sale
	movements map[uuid.UUID]Movement
	locks     []LockMode
}

func newMemState() *memState {
	return &memState{
		counters:  map[string]int{},
		sessions:  map[uuid.UUID]Session{},
		sales:     map[uuid.UUID]Sale{},
		movements: map[uuid.UUID]Movement{},
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.counters {
		c.counters[k] = v
	}
	for k, v := range m.sessions {
		c.sessions[k] = v
	}
	for k, v := range m.sales {
		c.sales[k] = v
	}
	for k, v := range m.movements {
		c.movements[k] = v
	}
	c.locks = append(c.locks, m.locks...)
	return c
}

type fakeTx struct{ state *memState }

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := f.state.clone()
	if err := fn(ctx); err != nil {
		*f.state = *snapshot
		return err
	}
	return nil
}

type mockSessionRepo struct{ s *memState }

func (m *mockSessionRepo) NextNumber(_ context.Context, pharmacyID uuid.UUID, day time.Time) (int, error) {
	key := pharmacyID.String() + day.Format("2006-01-02")
	m.s.counters[key]++
	return m.s.counters[key], nil
}

// Create enforces one open session per drawer like the partial unique index.
func (m *mockSessionRepo) Create(_ context.Context, sess *Session) error {
	for _, existing := range m.s.sessions {
		if existing.PharmacyID == sess.PharmacyID && existing.DrawerID == sess.DrawerID && existing.IsOpen() {
			return errDrawerBusy
		}
	}
	m.s.sessions[sess.ID] = *sess
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, pharmacyID, id uuid.UUID) (*Session, error) {
	sess, ok := m.s.sessions[id]
	if !ok || sess.PharmacyID != pharmacyID {
		return nil, apperr.NotFound("cash session", id)
	}
	return &sess, nil
}

func (m *mockSessionRepo) Lock(ctx context.Context, pharmacyID, id uuid.UUID, mode LockMode) (*Session, error) {
	m.s.locks = append(m.s.locks, mode)
	return m.GetByID(ctx, pharmacyID, id)
}

func (m *mockSessionRepo) Current(_ context.Context, pharmacyID uuid.UUID, drawerID string) (*Session, error) {
	for _, sess := range m.s.sessions {
		if sess.PharmacyID == pharmacyID && sess.DrawerID == drawerID && sess.IsOpen() {
			return &sess, nil
		}
	}
	return nil, &apperr.NotFoundError{Resource: fmt.Sprintf("open cash session on drawer %s", drawerID)}
}

func (m *mockSessionRepo) List(_ context.Context, pharmacyID uuid.UUID, f SessionFilter, limit, offset int) ([]*Session, int, error) {
	var out []*Session
	for _, sess := range m.s.sessions {
		sess := sess
		if sess.PharmacyID != pharmacyID || (f.DrawerID != "" && sess.DrawerID != f.DrawerID) ||
			(f.Status != "" && sess.Status != f.Status) {
			continue
		}
		out = append(out, &sess)
	}
	return out, len(out), nil
}

func (m *mockSessionRepo) Close(_ context.Context, sess *Session) (bool, error) {
	stored, ok := m.s.sessions[sess.ID]
	if !ok || !stored.IsOpen() {
		return false, nil
	}
	m.s.sessions[sess.ID] = *sess
	return true, nil
}

type mockSaleRepo struct{ s *memState }

func (m *mockSaleRepo) Create(_ context.Context, sale *Sale) error {
	m.s.sales[sale.ID] = *sale
	return nil
}

func (m *mockSaleRepo) GetByID(_ context.Context, pharmacyID, id uuid.UUID) (*Sale, error) {
	sale, ok := m.s.sales[id]
	if !ok || sale.PharmacyID != pharmacyID {
		return nil, apperr.NotFound("sale", id)
	}
	return &sale, nil
}

func (m *mockSaleRepo) ListBySession(_ context.Context, pharmacyID, sessionID uuid.UUID) ([]*Sale, error) {
	var out []*Sale
	for _, sale := range m.s.sales {
		sale := sale
		if sale.PharmacyID == pharmacyID && sale.SessionID == sessionID {
			out = append(out, &sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockSaleRepo) SetStatus(_ context.Context, sale *Sale, from SaleStatus) (bool, error) {
	stored, ok := m.s.sales[sale.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	m.s.sales[sale.ID] = *sale
	return true, nil
}

type mockMovementRepo struct{ s *memState }

func (m *mockMovementRepo) Create(_ context.Context, mv *Movement) error {
	m.s.movements[mv.ID] = *mv
	return nil
}

func (m *mockMovementRepo) ListBySession(_ context.Context, pharmacyID, sessionID uuid.UUID) ([]*Movement, error) {
	var out []*Movement
	for _, mv := range m.s.movements {
		mv := mv
		if mv.PharmacyID == pharmacyID && mv.SessionID == sessionID {
			out = append(out, &mv)
		}
	}
	return out, nil
}

type stubInvoices map[uuid.UUID]decimal.Decimal

func (s stubInvoices) ChifaTotal(_ context.Context, _ uuid.UUID, id uuid.UUID) (decimal.Decimal, error) {
	total, ok := s[id]
	if !ok {
		return decimal.Zero, apperr.NotFound("chifa invoice", id)
	}
	return total, nil
}

// -- Fixture --

type fixture struct {
	svc      *Service
	state    *memState
	invoices stubInvoices
	actor    auth.Actor
	clock    time.Time
}

func newFixture() *fixture {
	state := newMemState()
	invoices := stubInvoices{}
	f := &fixture{
		state:    state,
		invoices: invoices,
		clock:    time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC),
		actor: auth.Actor{
			PharmacyID:  uuid.New(),
			ActorID:     "cashier-1",
			DisplayName: "Yacine",
			Roles:       []string{auth.RoleCashier},
		},
	}
	f.svc = NewService(&mockSessionRepo{s: state}, &mockSaleRepo{s: state}, &mockMovementRepo{s: state},
		invoices, &fakeTx{state: state}, 3, zerolog.Nop())
	// Each call advances the clock so sales keep their insertion order.
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func counted(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func (f *fixture) open(drawer, opening string) *Session {
	sess, err := f.svc.OpenSession(context.Background(), f.actor, OpenInput{DrawerID: drawer, OpeningBalance: d(opening)})
	if err != nil {
		panic(err)
	}
	return sess
}

func cashSale(total, cash, change string, items ...SaleItemInput) SaleInput {
	return SaleInput{
		TotalAmount: d(total),
		PaidCash:    d(cash),
		ChangeGiven: d(change),
		Items:       items,
	}
}

func item(name string, qty int, price string) SaleItemInput {
	return SaleItemInput{ProductName: name, Quantity: qty, UnitPrice: d(price)}
}
