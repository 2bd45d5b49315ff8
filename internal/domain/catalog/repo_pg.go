package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const testCols = `code, name, price, tube_type, reference_ranges, reflex_rules, active, updated_at`

func scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.Code, &t.Name, &t.Price, &t.TubeType, &t.ReferenceRanges, &t.ReflexRules, &t.Active, &t.UpdatedAt)
	return &t, err
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Test, error) {
	t, err := scanTest(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+testCols+` FROM catalog_tests WHERE code = $1 AND active`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("test %s: %w", code, ErrTestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog test %s: %w", code, err)
	}
	return t, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Test, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_tests WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+testCols+` FROM catalog_tests WHERE active ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
