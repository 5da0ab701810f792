package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/ledger"
)

// BinStore keeps each bin as one row; stock entries and movements live in JSONB
// columns so a bin changes with a single version-guarded UPDATE.
type BinStore struct{ DB *pgxpool.Pool }

const binColumns = `bin_code, location, max_items, current_stock, movement_history, is_active,
	version, created_at, updated_at`

func scanBin(row pgx.Row) (*ledger.Bin, error) {
	var (
		b                     ledger.Bin
		loc, stock, movements []byte
	)
	if err := row.Scan(&b.BinCode, &loc, &b.Capacity.MaxItems, &stock, &movements, &b.IsActive,
		&b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(loc, &b.Location); err != nil {
		return nil, fmt.Errorf("decode bin location: %w", err)
	}
	if err := json.Unmarshal(stock, &b.CurrentStock); err != nil {
		return nil, fmt.Errorf("decode bin stock: %w", err)
	}
	if err := json.Unmarshal(movements, &b.MovementHistory); err != nil {
		return nil, fmt.Errorf("decode bin movements: %w", err)
	}
	return &b, nil
}

type binDocs struct{ loc, stock, movements []byte }

func encodeBin(b *ledger.Bin) (binDocs, error) {
	var (
		d   binDocs
		err error
	)
	if d.loc, err = json.Marshal(b.Location); err != nil {
		return d, err
	}
	stock := b.CurrentStock
	if stock == nil {
		stock = []ledger.StockEntry{}
	}
	if d.stock, err = json.Marshal(stock); err != nil {
		return d, err
	}
	movements := b.MovementHistory
	if movements == nil {
		movements = []ledger.Movement{}
	}
	d.movements, err = json.Marshal(movements)
	return d, err
}

func (s *BinStore) Create(ctx context.Context, b *ledger.Bin) error {
	d, err := encodeBin(b)
	if err != nil {
		return err
	}
	err = s.DB.QueryRow(ctx, `
		INSERT INTO bins(bin_code, location, max_items, current_stock, movement_history, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING version, created_at, updated_at`,
		b.BinCode, d.loc, b.Capacity.MaxItems, d.stock, d.movements, b.IsActive,
	).Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if uniqueConstraint(err) != "" {
		return apperr.Conflict("bin code already exists").WithDetail("binCode", b.BinCode)
	}
	return err
}

func (s *BinStore) Get(ctx context.Context, code string) (*ledger.Bin, error) {
	b, err := scanBin(s.DB.QueryRow(ctx, `SELECT `+binColumns+` FROM bins WHERE bin_code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bin", code)
	}
	return b, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateBin(ctx context.Context, q querier, b *ledger.Bin) error {
	d, err := encodeBin(b)
	if err != nil {
		return err
	}
	var version int64
	err = q.QueryRow(ctx, `
		UPDATE bins
		SET location = $3, max_items = $4, current_stock = $5, movement_history = $6,
		    is_active = $7, version = version + 1, updated_at = now()
		WHERE bin_code = $1 AND version = $2
		RETURNING version`,
		b.BinCode, b.Version, d.loc, b.Capacity.MaxItems, d.stock, d.movements, b.IsActive,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	b.Version = version
	return nil
}

func (s *BinStore) Update(ctx context.Context, b *ledger.Bin) error {
	return updateBin(ctx, s.DB, b)
}

// UpdatePair commits both bins in one transaction; a conflict on either rolls back both.
func (s *BinStore) UpdatePair(ctx context.Context, a, b *ledger.Bin) error {
	va, vb := a.Version, b.Version
	err := inTx(ctx, s.DB, func(tx pgx.Tx) error {
		// lock in key order so concurrent opposite transfers cannot deadlock
		first, second := a, b
		if second.BinCode < first.BinCode {
			first, second = second, first
		}
		if err := updateBin(ctx, tx, first); err != nil {
			return err
		}
		return updateBin(ctx, tx, second)
	})
	if err != nil {
		a.Version, b.Version = va, vb
	}
	return err
}

func (s *BinStore) ListByProduct(ctx context.Context, productID string) ([]*ledger.Bin, error) {
	filter, err := json.Marshal([]map[string]string{{"productId": productID}})
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+binColumns+` FROM bins
		WHERE current_stock @> $1::jsonb ORDER BY bin_code`, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Bin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BinStore) SumProduct(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM((e->>'quantity')::int), 0)
		FROM bins, jsonb_array_elements(current_stock) AS e
		WHERE e->>'productId' = $1`, productID).Scan(&n)
	return n, err
}
