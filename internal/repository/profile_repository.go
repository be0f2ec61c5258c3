package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (model.Profile, error)
	// 既にあれば ErrDuplicate
	Create(ctx context.Context, p model.Profile) error
}
