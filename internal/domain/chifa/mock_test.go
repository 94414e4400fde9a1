package chifa

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
)

// -- In-memory state shared by the mock repositories --

type memState struct {
	counters   map[uuid.UUID]int64
	invoices   map[uuid.UUID]Invoice
	bordereaux map[uuid.UUID]Bordereau
	rejections map[uuid.UUID]Rejection
}

func newMemState() *memState {
	return &memState{
		counters:   map[uuid.UUID]int64{},
		invoices:   map[uuid.UUID]Invoice{},
		bordereaux: map[uuid.UUID]Bordereau{},
		rejections: map[uuid.UUID]Rejection{},
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.counters {
		c.counters[k] = v
	}
	for k, v := range m.invoices {
		v.Lines = append([]InvoiceLine(nil), v.Lines...)
		c.invoices[k] = v
	}
	for k, v := range m.bordereaux {
		c.bordereaux[k] = v
	}
	for k, v := range m.rejections {
		c.rejections[k] = v
	}
	return c
}

// fakeTx restores the state when fn fails, mirroring a rollback.
type fakeTx struct {
	state *memState
	calls int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	snapshot := f.state.clone()
	if err := fn(ctx); err != nil {
		*f.state = *snapshot
		return err
	}
	return nil
}

type mockInvoiceRepo struct{ s *memState }

func (m *mockInvoiceRepo) NextSeq(_ context.Context, pharmacyID uuid.UUID) (int64, error) {
	m.s.counters[pharmacyID]++
	return m.s.counters[pharmacyID], nil
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	for _, existing := range m.s.invoices {
		if existing.PharmacyID == inv.PharmacyID && existing.InvoiceSeq == inv.InvoiceSeq {
			return &apperr.ConflictError{Resource: "chifa invoice", ExistingRef: inv.InvoiceNumber}
		}
	}
	cp := *inv
	cp.Lines = append([]InvoiceLine(nil), inv.Lines...)
	m.s.invoices[inv.ID] = cp
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, pharmacyID, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.s.invoices[id]
	if !ok || inv.PharmacyID != pharmacyID {
		return nil, apperr.NotFound("chifa invoice", id)
	}
	return &inv, nil
}

func (m *mockInvoiceRepo) List(_ context.Context, pharmacyID uuid.UUID, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.s.invoices {
		inv := inv
		if inv.PharmacyID != pharmacyID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Unbatched && inv.BordereauID != nil {
			continue
		}
		out = append(out, &inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceSeq > out[j].InvoiceSeq })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockInvoiceRepo) Submit(_ context.Context, pharmacyID, bordereauID uuid.UUID, ids []uuid.UUID, at time.Time) (int, error) {
	n := 0
	for _, id := range ids {
		inv, ok := m.s.invoices[id]
		if !ok || inv.PharmacyID != pharmacyID || inv.Status != InvoicePending || inv.BordereauID != nil {
			continue
		}
		b := bordereauID
		inv.Status = InvoiceSubmitted
		inv.BordereauID = &b
		inv.SubmittedAt = &at
		m.s.invoices[id] = inv
		n++
	}
	return n, nil
}

func (m *mockInvoiceRepo) Transition(_ context.Context, pharmacyID, id uuid.UUID, from, to InvoiceStatus, at time.Time) (bool, error) {
	inv, ok := m.s.invoices[id]
	if !ok || inv.PharmacyID != pharmacyID || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	switch to {
	case InvoicePaid:
		inv.PaidAt = &at
	case InvoiceRejected:
		inv.RejectedAt = &at
	}
	m.s.invoices[id] = inv
	return true, nil
}

type mockBordereauRepo struct{ s *memState }

func (m *mockBordereauRepo) GetByID(_ context.Context, pharmacyID, id uuid.UUID) (*Bordereau, error) {
	b, ok := m.s.bordereaux[id]
	if !ok || b.PharmacyID != pharmacyID {
		return nil, apperr.NotFound("bordereau", id)
	}
	return &b, nil
}

type mockRejectionRepo struct{ s *memState }

func (m *mockRejectionRepo) Create(_ context.Context, r *Rejection) error {
	for _, existing := range m.s.rejections {
		if existing.InvoiceID == r.InvoiceID {
			return apperr.Conflict("chifa rejection", "invoice %s already has a rejection", r.InvoiceID)
		}
	}
	m.s.rejections[r.ID] = *r
	return nil
}

func (m *mockRejectionRepo) GetByID(_ context.Context, pharmacyID, id uuid.UUID) (*Rejection, error) {
	r, ok := m.s.rejections[id]
	if !ok || r.PharmacyID != pharmacyID {
		return nil, apperr.NotFound("chifa rejection", id)
	}
	return &r, nil
}

func (m *mockRejectionRepo) view(r Rejection) *RejectionView {
	v := &RejectionView{Rejection: r}
	inv := m.s.invoices[r.InvoiceID]
	v.InvoiceNumber = inv.InvoiceNumber
	v.InsuredNumber = inv.InsuredNumber
	v.InsuredName = inv.InsuredName
	v.InvoiceTotalChifa = inv.TotalChifa
	v.InvoiceGrandTotal = inv.GrandTotal
	if r.OriginalBordereauID != nil {
		b := m.s.bordereaux[*r.OriginalBordereauID]
		v.OriginalBordereau = &BordereauRef{ID: b.ID, BordereauNumber: b.BordereauNumber}
	}
	if r.ResubmissionBordereauID != nil {
		b := m.s.bordereaux[*r.ResubmissionBordereauID]
		v.ResubmissionBordereau = &BordereauRef{ID: b.ID, BordereauNumber: b.BordereauNumber}
	}
	return v
}

func (m *mockRejectionRepo) GetView(ctx context.Context, pharmacyID, id uuid.UUID) (*RejectionView, error) {
	r, err := m.GetByID(ctx, pharmacyID, id)
	if err != nil {
		return nil, err
	}
	return m.view(*r), nil
}

func (m *mockRejectionRepo) List(_ context.Context, pharmacyID uuid.UUID, f RejectionFilter, limit, offset int) ([]*RejectionView, int, error) {
	var out []*RejectionView
	for _, r := range m.s.rejections {
		if r.PharmacyID != pharmacyID || (f.Status != "" && r.Status != f.Status) {
			continue
		}
		out = append(out, m.view(r))
	}
	return out, len(out), nil
}

func (m *mockRejectionRepo) Update(_ context.Context, r *Rejection, from RejectionStatus) (bool, error) {
	stored, ok := m.s.rejections[r.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	m.s.rejections[r.ID] = *r
	return true, nil
}

func (m *mockRejectionRepo) Summary(_ context.Context, pharmacyID uuid.UUID) ([]StatusSummary, error) {
	byStatus := map[RejectionStatus]*StatusSummary{}
	for _, r := range m.s.rejections {
		if r.PharmacyID != pharmacyID {
			continue
		}
		s, ok := byStatus[r.Status]
		if !ok {
			s = &StatusSummary{Status: r.Status}
			byStatus[r.Status] = s
		}
		s.Count++
		s.Amount = s.Amount.Add(r.RejectedAmount)
	}
	var out []StatusSummary
	for _, s := range byStatus {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

type recordingPoster struct {
	posted []uuid.UUID
	err    error
}

func (p *recordingPoster) PostWriteOff(_ context.Context, r *Rejection) error {
	p.posted = append(p.posted, r.ID)
	return p.err
}

// -- Fixture --

type fixture struct {
	svc    *Service
	state  *memState
	tx     *fakeTx
	poster *recordingPoster
	actor  auth.Actor
}

func newFixture() *fixture {
	state := newMemState()
	tx := &fakeTx{state: state}
	svc := NewService(&mockInvoiceRepo{s: state}, &mockBordereauRepo{s: state}, &mockRejectionRepo{s: state},
		tx, DefaultPolicy(), zerolog.Nop())
	poster := &recordingPoster{}
	svc.SetWriteOffPoster(poster)
	svc.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	return &fixture{
		svc:    svc,
		state:  state,
		tx:     tx,
		poster: poster,
		actor: auth.Actor{
			PharmacyID:  uuid.New(),
			ActorID:     "user-1",
			DisplayName: "Amina",
			Roles:       []string{auth.RoleBilling},
		},
	}
}

func (f *fixture) addBordereau(number string) uuid.UUID {
	id := uuid.New()
	f.state.bordereaux[id] = Bordereau{ID: id, PharmacyID: f.actor.PharmacyID, BordereauNumber: number, Status: "open"}
	return id
}

func sampleInput() CreateInvoiceInput {
	return CreateInvoiceInput{
		InsuredNumber: "160123456789",
		InsuredName:   "Benali Karim",
		Lines: []LineInput{{
			ProductName:       "Paracetamol 1g",
			Quantity:          2,
			UnitPrice:         d("100"),
			TarifReference:    decimal.NewNullDecimal(d("80")),
			ReimbursementRate: d("80"),
		}},
	}
}
