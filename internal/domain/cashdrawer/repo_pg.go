package cashdrawer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/db"
)

// =========== Session Repository ===========

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) db.Queryable { return db.Resolve(ctx, r.pool) }

const sessCols = `id, pharmacy_id, drawer_id, session_number, status,
	opened_at, opened_by, opened_by_name, opening_balance,
	closed_at, closed_by, closed_by_name,
	counted_cash, counted_cards, counted_cheques, counted_mobile,
	system_cash, system_cards, system_cheques, system_mobile, system_credit, system_chifa,
	variance_cash, opening_notes, closing_notes, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.PharmacyID, &s.DrawerID, &s.SessionNumber, &s.Status,
		&s.OpenedAt, &s.OpenedBy, &s.OpenedByName, &s.OpeningBalance,
		&s.ClosedAt, &s.ClosedBy, &s.ClosedByName,
		&s.CountedCash, &s.CountedCards, &s.CountedCheques, &s.CountedMobile,
		&s.SystemCash, &s.SystemCards, &s.SystemCheques, &s.SystemMobile, &s.SystemCredit, &s.SystemChifa,
		&s.VarianceCash, &s.OpeningNotes, &s.ClosingNotes, &s.CreatedAt)
	return &s, err
}

func (r *sessionRepoPG) NextNumber(ctx context.Context, pharmacyID uuid.UUID, day time.Time) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO cash_session_counters (pharmacy_id, session_date, last_seq) VALUES ($1, $2, 1)
		ON CONFLICT (pharmacy_id, session_date) DO UPDATE SET last_seq = cash_session_counters.last_seq + 1
		RETURNING last_seq`, pharmacyID, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate session number: %w", err)
	}
	return seq, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cash_sessions (id, pharmacy_id, drawer_id, session_number, status,
			opened_at, opened_by, opened_by_name, opening_balance, opening_notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.PharmacyID, s.DrawerID, s.SessionNumber, string(s.Status),
		s.OpenedAt, s.OpenedBy, s.OpenedByName, s.OpeningBalance, s.OpeningNotes, s.CreatedAt)
	if err != nil {
		if apperr.IsUniqueViolation(err, "uq_cash_session_open_drawer") {
			return errDrawerBusy
		}
		return fmt.Errorf("insert cash session: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) get(ctx context.Context, query string, args ...interface{}) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if apperr.NoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "cash session"}
		}
		return nil, fmt.Errorf("get cash session: %w", err)
	}
	return s, nil
}

func (r *sessionRepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Session, error) {
	s, err := r.get(ctx, `SELECT `+sessCols+` FROM cash_sessions WHERE id = $1 AND pharmacy_id = $2`, id, pharmacyID)
	return s, notFoundWithID(err, id)
}

// notFoundWithID fills in the id on a bare not-found error.
func notFoundWithID(err error, id uuid.UUID) error {
	if nf, ok := err.(*apperr.NotFoundError); ok && nf.ID == "" {
		return apperr.NotFound(nf.Resource, id)
	}
	return err
}

func (r *sessionRepoPG) Lock(ctx context.Context, pharmacyID, id uuid.UUID, mode LockMode) (*Session, error) {
	clause := "FOR SHARE"
	if mode == LockUpdate {
		clause = "FOR UPDATE"
	}
	s, err := r.get(ctx, `SELECT `+sessCols+` FROM cash_sessions WHERE id = $1 AND pharmacy_id = $2 `+clause, id, pharmacyID)
	return s, notFoundWithID(err, id)
}

func (r *sessionRepoPG) Current(ctx context.Context, pharmacyID uuid.UUID, drawerID string) (*Session, error) {
	s, err := r.get(ctx, `SELECT `+sessCols+` FROM cash_sessions
		WHERE pharmacy_id = $1 AND drawer_id = $2 AND status = 'open'`, pharmacyID, drawerID)
	if err != nil {
		if nf, ok := err.(*apperr.NotFoundError); ok {
			nf.Resource = fmt.Sprintf("open cash session on drawer %s", drawerID)
		}
		return nil, err
	}
	return s, nil
}

func (r *sessionRepoPG) List(ctx context.Context, pharmacyID uuid.UUID, f SessionFilter, limit, offset int) ([]*Session, int, error) {
	c := r.conn(ctx)
	sq := db.NewQuery("cash_sessions", sessCols).Eq("pharmacy_id", pharmacyID)
	if f.DrawerID != "" {
		sq.Eq("drawer_id", f.DrawerID)
	}
	if f.Status != "" {
		sq.Eq("status", string(f.Status))
	}
	sq.OrderBy("opened_at DESC, id")

	var total int
	if err := c.QueryRow(ctx, sq.CountSQL(), sq.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cash sessions: %w", err)
	}
	rows, err := c.Query(ctx, sq.DataSQL(), sq.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cash sessions: %w", err)
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan cash session: %w", err)
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoPG) Close(ctx context.Context, s *Session) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE cash_sessions SET
			status = 'closed', closed_at = $1, closed_by = $2, closed_by_name = $3,
			counted_cash = $4, counted_cards = $5, counted_cheques = $6, counted_mobile = $7,
			system_cash = $8, system_cards = $9, system_cheques = $10, system_mobile = $11,
			system_credit = $12, system_chifa = $13, variance_cash = $14, closing_notes = $15
		WHERE id = $16 AND pharmacy_id = $17 AND status = 'open'`,
		s.ClosedAt, s.ClosedBy, s.ClosedByName,
		s.CountedCash, s.CountedCards, s.CountedCheques, s.CountedMobile,
		s.SystemCash, s.SystemCards, s.SystemCheques, s.SystemMobile,
		s.SystemCredit, s.SystemChifa, s.VarianceCash, s.ClosingNotes,
		s.ID, s.PharmacyID)
	if err != nil {
		return false, fmt.Errorf("close cash session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Sale Repository ===========

type saleRepoPG struct{ pool *pgxpool.Pool }

func NewSaleRepoPG(pool *pgxpool.Pool) SaleRepository { return &saleRepoPG{pool: pool} }

func (r *saleRepoPG) conn(ctx context.Context) db.Queryable { return db.Resolve(ctx, r.pool) }

const saleCols = `id, pharmacy_id, session_id, status, total_amount, discount_amount,
	paid_cash, paid_card, paid_cheque, paid_mobile, paid_credit, chifa_total, change_given,
	chifa_invoice_id, customer_name, created_by, status_reason, status_changed_at, status_changed_by, created_at`

const itemCols = `id, sale_id, product_id, product_name, quantity, unit_price, line_total`

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.PharmacyID, &s.SessionID, &s.Status, &s.TotalAmount, &s.DiscountAmount,
		&s.PaidCash, &s.PaidCard, &s.PaidCheque, &s.PaidMobile, &s.PaidCredit, &s.ChifaTotal, &s.ChangeGiven,
		&s.ChifaInvoiceID, &s.CustomerName, &s.CreatedBy, &s.StatusReason, &s.StatusChangedAt, &s.StatusChangedBy, &s.CreatedAt)
	return &s, err
}

func (r *saleRepoPG) Create(ctx context.Context, s *Sale) error {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO pos_sales (`+saleCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		s.ID, s.PharmacyID, s.SessionID, string(s.Status), s.TotalAmount, s.DiscountAmount,
		s.PaidCash, s.PaidCard, s.PaidCheque, s.PaidMobile, s.PaidCredit, s.ChifaTotal, s.ChangeGiven,
		s.ChifaInvoiceID, s.CustomerName, s.CreatedBy, s.StatusReason, s.StatusChangedAt, s.StatusChangedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	for _, it := range s.Items {
		_, err := q.Exec(ctx, `INSERT INTO pos_sale_items (`+itemCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, s.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal)
		if err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

// loadItems attaches items to sales with a single query.
func (r *saleRepoPG) loadItems(ctx context.Context, sales []*Sale) error {
	if len(sales) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Sale, len(sales))
	ids := make([]uuid.UUID, len(sales))
	for i, s := range sales {
		byID[s.ID] = s
		ids[i] = s.ID
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM pos_sale_items WHERE sale_id = ANY($1) ORDER BY sale_id, product_name`, ids)
	if err != nil {
		return fmt.Errorf("list sale items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return fmt.Errorf("scan sale item: %w", err)
		}
		if s, ok := byID[it.SaleID]; ok {
			s.Items = append(s.Items, it)
		}
	}
	return rows.Err()
}

func (r *saleRepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Sale, error) {
	s, err := scanSale(r.conn(ctx).QueryRow(ctx,
		`SELECT `+saleCols+` FROM pos_sales WHERE id = $1 AND pharmacy_id = $2`, id, pharmacyID))
	if err != nil {
		if apperr.NoRows(err) {
			return nil, apperr.NotFound("sale", id)
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if err := r.loadItems(ctx, []*Sale{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *saleRepoPG) ListBySession(ctx context.Context, pharmacyID, sessionID uuid.UUID) ([]*Sale, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+saleCols+` FROM pos_sales
		WHERE pharmacy_id = $1 AND session_id = $2 ORDER BY created_at, id`, pharmacyID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	var sales []*Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *saleRepoPG) SetStatus(ctx context.Context, s *Sale, from SaleStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pos_sales SET status = $1, status_reason = $2, status_changed_at = $3, status_changed_by = $4
		WHERE id = $5 AND pharmacy_id = $6 AND status = $7`,
		string(s.Status), s.StatusReason, s.StatusChangedAt, s.StatusChangedBy, s.ID, s.PharmacyID, string(from))
	if err != nil {
		return false, fmt.Errorf("update sale status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Movement Repository ===========

type movementRepoPG struct{ pool *pgxpool.Pool }

func NewMovementRepoPG(pool *pgxpool.Pool) MovementRepository { return &movementRepoPG{pool: pool} }

func (r *movementRepoPG) Create(ctx context.Context, m *Movement) error {
	_, err := db.Resolve(ctx, r.pool).Exec(ctx, `
		INSERT INTO cash_movements (id, pharmacy_id, session_id, type, amount, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.PharmacyID, m.SessionID, string(m.Type), m.Amount, m.Reason, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert cash movement: %w", err)
	}
	return nil
}

func (r *movementRepoPG) ListBySession(ctx context.Context, pharmacyID, sessionID uuid.UUID) ([]*Movement, error) {
	rows, err := db.Resolve(ctx, r.pool).Query(ctx, `
		SELECT id, pharmacy_id, session_id, type, amount, reason, created_by, created_at
		FROM cash_movements WHERE pharmacy_id = $1 AND session_id = $2 ORDER BY created_at, id`,
		pharmacyID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list cash movements: %w", err)
	}
	defer rows.Close()

	var out []*Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.PharmacyID, &m.SessionID, &m.Type, &m.Amount, &m.Reason, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cash movement: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
