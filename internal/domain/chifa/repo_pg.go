package chifa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/db"
)

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Queryable { return db.Resolve(ctx, r.pool) }

const invCols = `id, pharmacy_id, invoice_seq, invoice_number, sale_id,
	insured_number, insured_name, insured_rank, beneficiary_name, beneficiary_relationship,
	insurance_type, is_chronic, prescriber_name, prescriber_specialty, prescription_date,
	status, bordereau_id, total_tarif_reference, total_chifa, total_patient, total_majoration, grand_total,
	created_by, submitted_at, paid_at, rejected_at, created_at, updated_at`

const lineCols = `id, invoice_id, line_no, product_id, product_name, quantity, unit_price,
	tarif_reference, reimbursement_rate, effective_rate, is_local_product, is_chronic_applied,
	chifa_amount, patient_amount, majoration_amount, line_total`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PharmacyID, &inv.InvoiceSeq, &inv.InvoiceNumber, &inv.SaleID,
		&inv.InsuredNumber, &inv.InsuredName, &inv.InsuredRank, &inv.BeneficiaryName, &inv.BeneficiaryRelationship,
		&inv.InsuranceType, &inv.IsChronic, &inv.PrescriberName, &inv.PrescriberSpecialty, &inv.PrescriptionDate,
		&inv.Status, &inv.BordereauID, &inv.TotalTarifReference, &inv.TotalChifa, &inv.TotalPatient,
		&inv.TotalMajoration, &inv.GrandTotal,
		&inv.CreatedBy, &inv.SubmittedAt, &inv.PaidAt, &inv.RejectedAt, &inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func scanLine(row pgx.Row) (InvoiceLine, error) {
	var l InvoiceLine
	err := row.Scan(&l.ID, &l.InvoiceID, &l.LineNo, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice,
		&l.TarifReference, &l.ReimbursementRate, &l.EffectiveRate, &l.IsLocalProduct, &l.IsChronicApplied,
		&l.ChifaAmount, &l.PatientAmount, &l.MajorationAmount, &l.LineTotal)
	return l, err
}

// NextSeq upserts the pharmacy counter row. The row lock taken by the update
// is held until the surrounding transaction ends, which serialises concurrent
// invoice creation for the same pharmacy.
func (r *invoiceRepoPG) NextSeq(ctx context.Context, pharmacyID uuid.UUID) (int64, error) {
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chifa_invoice_counters (pharmacy_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (pharmacy_id) DO UPDATE SET last_seq = chifa_invoice_counters.last_seq + 1
		RETURNING last_seq`, pharmacyID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate invoice number: %w", err)
	}
	return seq, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO chifa_invoices (id, pharmacy_id, invoice_seq, invoice_number, sale_id,
			insured_number, insured_name, insured_rank, beneficiary_name, beneficiary_relationship,
			insurance_type, is_chronic, prescriber_name, prescriber_specialty, prescription_date,
			status, bordereau_id, total_tarif_reference, total_chifa, total_patient, total_majoration, grand_total,
			created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$24)`,
		inv.ID, inv.PharmacyID, inv.InvoiceSeq, inv.InvoiceNumber, inv.SaleID,
		inv.InsuredNumber, inv.InsuredName, inv.InsuredRank, inv.BeneficiaryName, inv.BeneficiaryRelationship,
		inv.InsuranceType, inv.IsChronic, inv.PrescriberName, inv.PrescriberSpecialty, inv.PrescriptionDate,
		inv.Status, inv.BordereauID, inv.TotalTarifReference, inv.TotalChifa, inv.TotalPatient,
		inv.TotalMajoration, inv.GrandTotal, inv.CreatedBy, inv.CreatedAt)
	if err != nil {
		if apperr.IsUniqueViolation(err, "") {
			return &apperr.ConflictError{
				Resource:    "chifa invoice",
				ExistingRef: inv.InvoiceNumber,
				Message:     fmt.Sprintf("invoice number %s is already taken", inv.InvoiceNumber),
			}
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	for _, l := range inv.Lines {
		_, err := q.Exec(ctx, `
			INSERT INTO chifa_invoice_lines (`+lineCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			l.ID, inv.ID, l.LineNo, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice,
			l.TarifReference, l.ReimbursementRate, l.EffectiveRate, l.IsLocalProduct, l.IsChronicApplied,
			l.ChifaAmount, l.PatientAmount, l.MajorationAmount, l.LineTotal)
		if err != nil {
			return fmt.Errorf("insert invoice line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Invoice, error) {
	q := r.conn(ctx)
	inv, err := scanInvoice(q.QueryRow(ctx,
		`SELECT `+invCols+` FROM chifa_invoices WHERE id = $1 AND pharmacy_id = $2`, id, pharmacyID))
	if err != nil {
		if apperr.NoRows(err) {
			return nil, apperr.NotFound("chifa invoice", id)
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+lineCols+` FROM chifa_invoice_lines WHERE invoice_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

func invoiceQuery(pharmacyID uuid.UUID, f InvoiceFilter) *db.Query {
	q := db.NewQuery("chifa_invoices", invCols).Eq("pharmacy_id", pharmacyID)
	if f.Status != "" {
		q.Eq("status", string(f.Status))
	}
	if f.InsuredNumber != "" {
		q.Eq("insured_number", f.InsuredNumber)
	}
	if f.BordereauID != nil {
		q.Eq("bordereau_id", *f.BordereauID)
	}
	if f.Unbatched {
		q.Where("bordereau_id IS NULL")
	}
	if f.IsChronic != nil {
		q.Eq("is_chronic", *f.IsChronic)
	}
	if f.CreatedFrom != nil {
		q.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q.Where("created_at < ?", *f.CreatedTo)
	}
	return q.OrderBy("invoice_seq DESC")
}

func (r *invoiceRepoPG) List(ctx context.Context, pharmacyID uuid.UUID, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	c := r.conn(ctx)
	sq := invoiceQuery(pharmacyID, f)

	var total int
	if err := c.QueryRow(ctx, sq.CountSQL(), sq.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	rows, err := c.Query(ctx, sq.DataSQL(), sq.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) Submit(ctx context.Context, pharmacyID, bordereauID uuid.UUID, ids []uuid.UUID, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE chifa_invoices
		SET status = 'submitted', bordereau_id = $1, submitted_at = $2, updated_at = $2
		WHERE pharmacy_id = $3 AND id = ANY($4) AND status = 'pending' AND bordereau_id IS NULL`,
		bordereauID, at, pharmacyID, ids)
	if err != nil {
		return 0, fmt.Errorf("submit invoices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *invoiceRepoPG) Transition(ctx context.Context, pharmacyID, id uuid.UUID, from, to InvoiceStatus, at time.Time) (bool, error) {
	var stamp string
	switch to {
	case InvoicePaid:
		stamp = "paid_at"
	case InvoiceRejected:
		stamp = "rejected_at"
	default:
		return false, fmt.Errorf("unsupported invoice transition to %s", to)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE chifa_invoices SET status = $1, `+stamp+` = $2, updated_at = $2
		WHERE pharmacy_id = $3 AND id = $4 AND status = $5`,
		string(to), at, pharmacyID, id, string(from))
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Bordereau Repository ===========

type bordereauRepoPG struct{ pool *pgxpool.Pool }

func NewBordereauRepoPG(pool *pgxpool.Pool) BordereauRepository { return &bordereauRepoPG{pool: pool} }

func (r *bordereauRepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Bordereau, error) {
	var b Bordereau
	err := db.Resolve(ctx, r.pool).QueryRow(ctx, `
		SELECT id, pharmacy_id, bordereau_number, status
		FROM chifa_bordereaux WHERE id = $1 AND pharmacy_id = $2`, id, pharmacyID).
		Scan(&b.ID, &b.PharmacyID, &b.BordereauNumber, &b.Status)
	if err != nil {
		if apperr.NoRows(err) {
			return nil, apperr.NotFound("bordereau", id)
		}
		return nil, fmt.Errorf("get bordereau: %w", err)
	}
	return &b, nil
}

// =========== Rejection Repository ===========

type rejectionRepoPG struct{ pool *pgxpool.Pool }

func NewRejectionRepoPG(pool *pgxpool.Pool) RejectionRepository { return &rejectionRepoPG{pool: pool} }

func (r *rejectionRepoPG) conn(ctx context.Context) db.Queryable { return db.Resolve(ctx, r.pool) }

const rejCols = `id, pharmacy_id, invoice_id, original_bordereau_id, resubmission_bordereau_id,
	rejection_code, rejection_motif, rejected_amount, status, corrected_invoice_id,
	resolved_at, resolved_by, resolution_notes, rejected_by, created_at, updated_at`

func scanRejection(row pgx.Row) (*Rejection, error) {
	var j Rejection
	err := row.Scan(&j.ID, &j.PharmacyID, &j.InvoiceID, &j.OriginalBordereauID, &j.ResubmissionBordereauID,
		&j.RejectionCode, &j.RejectionMotif, &j.RejectedAmount, &j.Status, &j.CorrectedInvoiceID,
		&j.ResolvedAt, &j.ResolvedBy, &j.ResolutionNotes, &j.RejectedBy, &j.CreatedAt, &j.UpdatedAt)
	return &j, err
}

// The two bordereau foreign keys are joined under explicit aliases so each
// relation is resolved on its own column.
const rejViewFrom = `chifa_rejections rj
	JOIN chifa_invoices inv ON inv.id = rj.invoice_id
	LEFT JOIN chifa_bordereaux original_bordereau ON original_bordereau.id = rj.original_bordereau_id
	LEFT JOIN chifa_bordereaux resubmission_bordereau ON resubmission_bordereau.id = rj.resubmission_bordereau_id
	LEFT JOIN chifa_invoices corrected ON corrected.id = rj.corrected_invoice_id`

const rejViewCols = `rj.id, rj.pharmacy_id, rj.invoice_id, rj.original_bordereau_id, rj.resubmission_bordereau_id,
	rj.rejection_code, rj.rejection_motif, rj.rejected_amount, rj.status, rj.corrected_invoice_id,
	rj.resolved_at, rj.resolved_by, rj.resolution_notes, rj.rejected_by, rj.created_at, rj.updated_at,
	inv.invoice_number, inv.insured_number, inv.insured_name, inv.total_chifa, inv.grand_total,
	original_bordereau.bordereau_number, resubmission_bordereau.bordereau_number, corrected.invoice_number`

func scanRejectionView(row pgx.Row) (*RejectionView, error) {
	var v RejectionView
	var origNumber, resubNumber *string
	j := &v.Rejection
	err := row.Scan(&j.ID, &j.PharmacyID, &j.InvoiceID, &j.OriginalBordereauID, &j.ResubmissionBordereauID,
		&j.RejectionCode, &j.RejectionMotif, &j.RejectedAmount, &j.Status, &j.CorrectedInvoiceID,
		&j.ResolvedAt, &j.ResolvedBy, &j.ResolutionNotes, &j.RejectedBy, &j.CreatedAt, &j.UpdatedAt,
		&v.InvoiceNumber, &v.InsuredNumber, &v.InsuredName, &v.InvoiceTotalChifa, &v.InvoiceGrandTotal,
		&origNumber, &resubNumber, &v.CorrectedInvoice)
	if err != nil {
		return nil, err
	}
	if j.OriginalBordereauID != nil && origNumber != nil {
		v.OriginalBordereau = &BordereauRef{ID: *j.OriginalBordereauID, BordereauNumber: *origNumber}
	}
	if j.ResubmissionBordereauID != nil && resubNumber != nil {
		v.ResubmissionBordereau = &BordereauRef{ID: *j.ResubmissionBordereauID, BordereauNumber: *resubNumber}
	}
	return &v, nil
}

func (r *rejectionRepoPG) Create(ctx context.Context, j *Rejection) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chifa_rejections (`+rejCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		j.ID, j.PharmacyID, j.InvoiceID, j.OriginalBordereauID, j.ResubmissionBordereauID,
		j.RejectionCode, j.RejectionMotif, j.RejectedAmount, string(j.Status), j.CorrectedInvoiceID,
		j.ResolvedAt, j.ResolvedBy, j.ResolutionNotes, j.RejectedBy, j.CreatedAt)
	if err != nil {
		if apperr.IsUniqueViolation(err, "uq_chifa_rejection_invoice") {
			return &apperr.ConflictError{
				Resource: "chifa rejection",
				Message:  fmt.Sprintf("invoice %s already has a rejection", j.InvoiceID),
			}
		}
		return fmt.Errorf("insert rejection: %w", err)
	}
	return nil
}

func (r *rejectionRepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Rejection, error) {
	j, err := scanRejection(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rejCols+` FROM chifa_rejections WHERE id = $1 AND pharmacy_id = $2`, id, pharmacyID))
	if err != nil {
		if apperr.NoRows(err) {
			return nil, apperr.NotFound("chifa rejection", id)
		}
		return nil, fmt.Errorf("get rejection: %w", err)
	}
	return j, nil
}

func (r *rejectionRepoPG) GetView(ctx context.Context, pharmacyID, id uuid.UUID) (*RejectionView, error) {
	v, err := scanRejectionView(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rejViewCols+` FROM `+rejViewFrom+` WHERE rj.id = $1 AND rj.pharmacy_id = $2`, id, pharmacyID))
	if err != nil {
		if apperr.NoRows(err) {
			return nil, apperr.NotFound("chifa rejection", id)
		}
		return nil, fmt.Errorf("get rejection view: %w", err)
	}
	return v, nil
}

func (r *rejectionRepoPG) List(ctx context.Context, pharmacyID uuid.UUID, f RejectionFilter, limit, offset int) ([]*RejectionView, int, error) {
	c := r.conn(ctx)
	sq := db.NewQuery(rejViewFrom, rejViewCols).Eq("rj.pharmacy_id", pharmacyID)
	if f.Status != "" {
		sq.Eq("rj.status", string(f.Status))
	}
	if f.BordereauID != nil {
		sq.Where("(rj.original_bordereau_id = ? OR rj.resubmission_bordereau_id = ?)", *f.BordereauID, *f.BordereauID)
	}
	if f.InvoiceID != nil {
		sq.Eq("rj.invoice_id", *f.InvoiceID)
	}
	sq.OrderBy("rj.created_at DESC, rj.id")

	var total int
	if err := c.QueryRow(ctx, sq.CountSQL(), sq.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rejections: %w", err)
	}
	rows, err := c.Query(ctx, sq.DataSQL(), sq.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list rejections: %w", err)
	}
	defer rows.Close()

	var items []*RejectionView
	for rows.Next() {
		v, err := scanRejectionView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan rejection: %w", err)
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *rejectionRepoPG) Update(ctx context.Context, j *Rejection, from RejectionStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE chifa_rejections SET
			status = $1, corrected_invoice_id = $2, resubmission_bordereau_id = $3,
			resolved_at = $4, resolved_by = $5, resolution_notes = $6, updated_at = $7
		WHERE id = $8 AND pharmacy_id = $9 AND status = $10`,
		string(j.Status), j.CorrectedInvoiceID, j.ResubmissionBordereauID,
		j.ResolvedAt, j.ResolvedBy, j.ResolutionNotes, j.UpdatedAt,
		j.ID, j.PharmacyID, string(from))
	if err != nil {
		return false, fmt.Errorf("update rejection: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *rejectionRepoPG) Summary(ctx context.Context, pharmacyID uuid.UUID) ([]StatusSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(rejected_amount), 0)
		FROM chifa_rejections WHERE pharmacy_id = $1
		GROUP BY status ORDER BY status`, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("summarise rejections: %w", err)
	}
	defer rows.Close()

	var out []StatusSummary
	for rows.Next() {
		var s StatusSummary
		var amount decimal.Decimal
		if err := rows.Scan(&s.Status, &s.Count, &amount); err != nil {
			return nil, fmt.Errorf("scan rejection summary: %w", err)
		}
		s.Amount = amount
		out = append(out, s)
	}
	return out, rows.Err()
}
