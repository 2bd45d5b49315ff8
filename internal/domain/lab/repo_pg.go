package lab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const orderCols = `o.id, o.order_id, o.patient_id, o.physician_id, o.diagnosis_code, o.billing_type,
	o.priority, o.order_status, o.payment_status, o.samples, o.payments, o.version,
	o.created_by, o.created_at, o.updated_at`

func scanOrder(row pgx.Row, extra ...interface{}) (*Order, error) {
	var o Order
	dest := []interface{}{
		&o.ID, &o.OrderID, &o.PatientID, &o.PhysicianID, &o.DiagnosisCode, &o.BillingType,
		&o.Priority, &o.Status, &o.PaymentStatus, &o.Samples, &o.Payments, &o.Version,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO orders (id, order_id, patient_id, physician_id, diagnosis_code, billing_type,
			priority, order_status, payment_status, samples, payments, version,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.OrderID, o.PatientID, o.PhysicianID, o.DiagnosisCode, o.BillingType,
		o.Priority, o.Status, o.PaymentStatus, o.Samples, o.Payments, o.Version,
		o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrDuplicateOrderID)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *repoPG) GetByOrderID(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders o WHERE o.order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return o, nil
}

func (r *repoPG) GetByAccession(ctx context.Context, accession string) (*Order, int, error) {
	var idx int
	o, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+orderCols+`, a.sample_index
		FROM accession_numbers a JOIN orders o ON o.id = a.order_id
		WHERE a.accession_number = $1`, accession), &idx)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("accession %s: %w", accession, ErrOrderNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get order by accession %s: %w", accession, err)
	}
	return o, idx, nil
}

// AccessionSample must run inside a transaction: the accession row and the
// conditional sample update commit together or not at all.
func (r *repoPG) AccessionSample(ctx context.Context, id uuid.UUID, index int, accession string, receivedAt time.Time) error {
	conn := db.Conn(ctx, r.pool)

	tag, err := conn.Exec(ctx, `
		INSERT INTO accession_numbers (accession_number, order_id, sample_index, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (accession_number) DO NOTHING`, accession, id, index, receivedAt)
	if db.IsUniqueViolation(err) {
		// unique(order_id, sample_index): the sample already has a number.
		return fmt.Errorf("sample %d: %w", index, ErrSampleStateChanged)
	}
	if err != nil {
		return fmt.Errorf("insert accession: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accession %s: %w", accession, ErrAccessionTaken)
	}

	accJSON, _ := json.Marshal(accession)
	tsJSON, _ := json.Marshal(receivedAt)
	path := strconv.Itoa(index)
	tag, err = conn.Exec(ctx, `
		UPDATE orders SET
			samples = jsonb_set(jsonb_set(jsonb_set(samples,
				ARRAY[$2::text, 'status'], '"InLab"'::jsonb),
				ARRAY[$2::text, 'accession_number'], $3::jsonb),
				ARRAY[$2::text, 'received_at'], $4::jsonb),
			version = version + 1,
			updated_at = $5
		WHERE id = $1
		  AND order_status <> 'Cancelled'
		  AND samples -> $6::int ->> 'status' = 'AwaitingCollection'`,
		id, path, string(accJSON), string(tsJSON), receivedAt, index)
	if err != nil {
		return fmt.Errorf("accession sample: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sample %d: %w", index, ErrSampleStateChanged)
	}
	return nil
}

func (r *repoPG) ReplaceSamples(ctx context.Context, o *Order) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE orders SET samples = $2, order_status = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $5`,
		o.ID, o.Samples, o.Status, o.UpdatedAt, o.Version)
	if err != nil {
		return fmt.Errorf("update samples: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s version %d: %w", o.OrderID, o.Version, ErrStaleVersion)
	}
	o.Version++
	return nil
}

func (r *repoPG) AppendPayment(ctx context.Context, o *Order, p Payment) error {
	b, err := json.Marshal([]Payment{p})
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE orders SET payments = payments || $2::jsonb, payment_status = $3,
			updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $5`,
		o.ID, string(b), o.PaymentStatus, o.UpdatedAt, o.Version)
	if err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s version %d: %w", o.OrderID, o.Version, ErrStaleVersion)
	}
	o.Version++
	return nil
}

func (r *repoPG) FindLatestComplete(ctx context.Context, patientID, excludeID uuid.UUID) (*Order, error) {
	o, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+orderCols+` FROM orders o
		WHERE o.patient_id = $1 AND o.id <> $2 AND o.order_status = 'Complete'
		ORDER BY o.updated_at DESC LIMIT 1`, patientID, excludeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find previous order: %w", err)
	}
	return o, nil
}

func (r *repoPG) ListBySampleStatus(ctx context.Context, statuses []SampleStatus) ([]*Order, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+orderCols+` FROM orders o
		WHERE o.order_status <> 'Cancelled'
		  AND EXISTS (SELECT 1 FROM jsonb_array_elements(o.samples) s WHERE s->>'status' = ANY($1))
		ORDER BY o.created_at`, names)
	if err != nil {
		return nil, fmt.Errorf("list worklist orders: %w", err)
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
