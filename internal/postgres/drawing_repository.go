package postgres

import (
	"context"
	"fmt"

	"github.com/doodletogether/doodled/internal/domain"
)

// DrawingRepo implements domain.DrawingRepository. Append-only: the server
// never reads snapshots back.
type DrawingRepo struct {
	gateway *Gateway
}

var _ domain.DrawingRepository = (*DrawingRepo)(nil)

func NewDrawingRepo(gateway *Gateway) *DrawingRepo {
	return &DrawingRepo{gateway: gateway}
}

func (r *DrawingRepo) Insert(ctx context.Context, image string) error {
	pool, err := r.gateway.Pool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `INSERT INTO drawings (image) VALUES ($1)`, image); err != nil {
		return fmt.Errorf("failed to insert drawing: %w", err)
	}
	return nil
}
