package repository

import (
	"context"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// ConfigRepository stores providers, model buckets and selected models.
// Saves are upserts by id; nothing is removed except through the explicit
// Remove* calls.
type ConfigRepository interface {
	LoadProviders(ctx context.Context, userID string) ([]entity.Provider, error)
	SaveProviders(ctx context.Context, userID string, providers []entity.Provider) error
	RemoveProvider(ctx context.Context, userID, providerID string) error

	LoadModels(ctx context.Context, userID, bucket string) ([]entity.Model, error)
	SaveModels(ctx context.Context, userID, bucket string, models []entity.Model) error
	RemoveModel(ctx context.Context, userID, bucket, modelID string) error
	ListModelBuckets(ctx context.Context, userID string) ([]string, error)

	LoadSelectedModels(ctx context.Context, userID string) ([]string, error)
	SaveSelectedModels(ctx context.Context, userID string, modelIDs []string) error

	// LoadSnapshot returns exists=false when the backend holds no configuration.
	LoadSnapshot(ctx context.Context, userID string) (snap *entity.ConfigSnapshot, exists bool, err error)
	SaveSnapshot(ctx context.Context, userID string, snap *entity.ConfigSnapshot) error
}
