package catalog

import (
	"context"
	"errors"
)

var ErrTestNotFound = errors.New("catalog test not found")

type Repository interface {
	GetByCode(ctx context.Context, code string) (*Test, error)
	List(ctx context.Context, limit, offset int) ([]*Test, int, error)
}
