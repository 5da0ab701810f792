package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/orders"
)

// OrderStore persists the order document. Items, timeline, pricing and address are
// JSONB; the header columns carry what the claim pools filter on.
type OrderStore struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_number, customer_id, status, payment_method, payment_status,
	items, pricing, delivery_address, COALESCE(picker, ''), COALESCE(rider, ''), timeline,
	COALESCE(delivery_otp, ''), customer_notes, special_instructions, cancellation_reason,
	delivered_at, version, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                                 orders.Order
		items, pricing, address, timeline []byte
		status, method, payment           string
		deliveredAt                       *time.Time
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &status, &method, &payment,
		&items, &pricing, &address, &o.Picker, &o.Rider, &timeline,
		&o.DeliveryOTP, &o.CustomerNotes, &o.SpecialInstructions, &o.CancellationReason,
		&deliveredAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.PaymentMethod = orders.PaymentMethod(method)
	o.PaymentStatus = orders.PaymentStatus(payment)
	o.DeliveredAt = deliveredAt
	for _, doc := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"items", items, &o.Items},
		{"pricing", pricing, &o.Pricing},
		{"delivery_address", address, &o.DeliveryAddress},
		{"timeline", timeline, &o.Timeline},
	} {
		if err := json.Unmarshal(doc.raw, doc.dst); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", doc.name, err)
		}
	}
	return &o, nil
}

type orderDocs struct{ items, pricing, address, timeline []byte }

func encodeOrder(o *orders.Order) (orderDocs, error) {
	var (
		d   orderDocs
		err error
	)
	if d.items, err = json.Marshal(o.Items); err != nil {
		return d, err
	}
	if d.pricing, err = json.Marshal(o.Pricing); err != nil {
		return d, err
	}
	if d.address, err = json.Marshal(o.DeliveryAddress); err != nil {
		return d, err
	}
	d.timeline, err = json.Marshal(o.Timeline)
	return d, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *OrderStore) Create(ctx context.Context, o *orders.Order) error {
	d, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO orders(id, order_number, customer_id, status, payment_method, payment_status,
		                   items, pricing, delivery_address, picker, rider, timeline, delivery_otp,
		                   customer_notes, special_instructions, cancellation_reason, delivered_at,
		                   version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,1,$18,$19)`,
		o.ID, o.OrderNumber, o.CustomerID, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus),
		d.items, d.pricing, d.address, nullable(o.Picker), nullable(o.Rider), d.timeline, nullable(o.DeliveryOTP),
		o.CustomerNotes, o.SpecialInstructions, o.CancellationReason, o.DeliveredAt,
		o.CreatedAt, o.UpdatedAt)
	switch uniqueConstraint(err) {
	case "":
		if err != nil {
			return err
		}
		o.Version = 1
		return nil
	case "orders_order_number_key":
		return orders.ErrDuplicateNumber
	default:
		return apperr.Conflict("order already exists").WithDetail("id", o.ID)
	}
}

func (s *OrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", id)
	}
	return o, err
}

func (s *OrderStore) GetByNumber(ctx context.Context, number string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", number)
	}
	return o, err
}

// Update writes the mutable parts of the order when the stored version still
// matches o.Version. Placement-time fields are never rewritten.
func (s *OrderStore) Update(ctx context.Context, o *orders.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	timeline, err := json.Marshal(o.Timeline)
	if err != nil {
		return err
	}
	var version int64
	err = s.DB.QueryRow(ctx, `
		UPDATE orders
		SET status = $3, payment_status = $4, items = $5, picker = $6, rider = $7,
		    timeline = $8, cancellation_reason = $9, delivered_at = $10,
		    version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $2
		RETURNING version`,
		o.ID, o.Version, string(o.Status), string(o.PaymentStatus), items,
		nullable(o.Picker), nullable(o.Rider), timeline, o.CancellationReason, o.DeliveredAt, o.UpdatedAt,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.Get(ctx, o.ID); gerr != nil {
			return gerr
		}
		return apperr.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	o.Version = version
	return nil
}

func (s *OrderStore) ListPickerPool(ctx context.Context, limit int) ([]*orders.Order, error) {
	return s.list(ctx, `WHERE status = 'confirmed' AND picker IS NULL ORDER BY created_at`, limit)
}

func (s *OrderStore) ListRiderPool(ctx context.Context, limit int) ([]*orders.Order, error) {
	return s.list(ctx, `WHERE status = 'picked' AND rider IS NULL ORDER BY created_at`, limit)
}

func (s *OrderStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*orders.Order, error) {
	return s.list(ctx, `WHERE customer_id = $2 ORDER BY created_at`, limit, customerID)
}

func (s *OrderStore) list(ctx context.Context, where string, limit int, args ...any) ([]*orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+` LIMIT $1`,
		append([]any{limit}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
