package domain

import (
	"context"
	"time"
)

// DrawingSnapshot is a persisted full-canvas export. Write-only: the server
// never reads snapshots back.
type DrawingSnapshot struct {
	ID        int64
	Image     string
	CreatedAt time.Time
}

type DrawingRepository interface {
	Insert(ctx context.Context, image string) error
}
