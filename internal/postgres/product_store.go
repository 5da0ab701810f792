package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/inventory"
)

// ProductStore keeps inventory counters in the products table. Counter deltas are a
// single guarded UPDATE, so Postgres row locking is the serialization point per product.
type ProductStore struct{ DB *pgxpool.Pool }

const productColumns = `id, sku, name, price_cents, mrp_cents, total_stock, available_stock,
	reserved_stock, min_stock_level, version, created_at, updated_at`

func scanProduct(row pgx.Row) (*inventory.Product, error) {
	var p inventory.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price.SellingCents, &p.Price.MRPCents,
		&p.Inventory.TotalStock, &p.Inventory.AvailableStock, &p.Inventory.ReservedStock,
		&p.Inventory.MinStockLevel, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProductStore) Create(ctx context.Context, p *inventory.Product) error {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO products(id, sku, name, price_cents, mrp_cents, total_stock, available_stock,
		                     reserved_stock, min_stock_level)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING version, created_at, updated_at`,
		p.ID, p.SKU, p.Name, p.Price.SellingCents, p.Price.MRPCents,
		p.Inventory.TotalStock, p.Inventory.AvailableStock, p.Inventory.ReservedStock, p.Inventory.MinStockLevel)
	err := row.Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	switch uniqueConstraint(err) {
	case "":
		return err
	case "products_sku_key":
		return apperr.Conflict("sku already exists").WithDetail("sku", p.SKU)
	default:
		return apperr.Conflict("product already exists").WithDetail("id", p.ID)
	}
}

func (s *ProductStore) Get(ctx context.Context, id string) (*inventory.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("product", id)
	}
	return p, err
}

func (s *ProductStore) GetMany(ctx context.Context, ids []string) (map[string]*inventory.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*inventory.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ApplyDelta changes all three counters in one statement. The WHERE clause is the guard:
// when it filters the row out the current counters come back inside a GuardError.
func (s *ProductStore) ApplyDelta(ctx context.Context, id string, d inventory.Delta) (inventory.Counters, error) {
	var c inventory.Counters
	err := s.DB.QueryRow(ctx, `
		UPDATE products
		SET total_stock = total_stock + $2,
		    available_stock = available_stock + $3,
		    reserved_stock = reserved_stock + $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND available_stock + $3 >= 0
		  AND reserved_stock + $4 >= 0
		RETURNING total_stock, available_stock, reserved_stock, min_stock_level`,
		id, d.Total, d.Available, d.Reserved,
	).Scan(&c.TotalStock, &c.AvailableStock, &c.ReservedStock, &c.MinStockLevel)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return inventory.Counters{}, err
	}
	p, gerr := s.Get(ctx, id)
	if gerr != nil {
		return inventory.Counters{}, gerr
	}
	return p.Inventory, &inventory.GuardError{ProductID: id, Current: p.Inventory}
}

func (s *ProductStore) SetStock(ctx context.Context, id string, version int64, total, available int) (inventory.Counters, error) {
	var c inventory.Counters
	err := s.DB.QueryRow(ctx, `
		UPDATE products
		SET total_stock = $3, available_stock = $4, reserved_stock = $3 - $4,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING total_stock, available_stock, reserved_stock, min_stock_level`,
		id, version, total, available,
	).Scan(&c.TotalStock, &c.AvailableStock, &c.ReservedStock, &c.MinStockLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return inventory.Counters{}, gerr
		}
		return inventory.Counters{}, apperr.ErrVersionConflict
	}
	return c, err
}
