package repositories

import (
	"context"

	"github.com/chrisdamba/trafficdatasim/internal/models"
)

type AlertRepository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, alert *models.StoredAlert) (int64, error)
	GetRecent(ctx context.Context, limit int) ([]*models.StoredAlert, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}
