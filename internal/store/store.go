package store

import (
	"context"

	"github.com/seantiz/tether/internal/model"
)

// Store defines the persistence operations for tracked requests.
type Store interface {
	CreateRequest(ctx context.Context, r *model.Request) error
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	ListRequests(ctx context.Context, limit, offset int) ([]*model.Request, int, error)
	UpdateRequestProgress(ctx context.Context, id string, pct float64) error
	SettleRequest(ctx context.Context, r *model.Request) error
	Close() error
}
