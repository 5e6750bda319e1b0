package remote

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// === Providers ===

// LoadProviders 加载用户的 provider 列表
func (a *Adapter) LoadProviders(ctx context.Context, userID string) ([]entity.Provider, error) {
	if err := requireUser(userID); err != nil {
		return []entity.Provider{}, err
	}
	docs, err := a.store.Query(ctx, docstore.Query{Collection: providersPath(userID)})
	if err != nil {
		a.readFailed("load providers", err, userID)
		return []entity.Provider{}, err
	}
	out := make([]entity.Provider, 0, len(docs))
	for _, d := range docs {
		p, err := a.decodeProvider(d)
		if err != nil {
			a.logger.Warn("Skipping unreadable provider", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveProviders upserts providers by id; duplicates keep the first entry.
func (a *Adapter) SaveProviders(ctx context.Context, userID string, providers []entity.Provider) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	providers = service.DedupeByID(providers)
	w := a.newWriter()
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid provider", err)
		}
		data, err := a.encodeProvider(p)
		if err != nil {
			return apperrors.NewInternalErrorWithCause("encode provider", err)
		}
		if err := w.set(ctx, docstore.Join(providersPath(userID), p.ID), data); err != nil {
			return a.writeFailed("save providers", err, userID)
		}
	}
	if err := w.flush(ctx); err != nil {
		return a.writeFailed("save providers", err, userID)
	}
	return nil
}

// RemoveProvider 删除单个 provider
func (a *Adapter) RemoveProvider(ctx context.Context, userID, providerID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := a.store.Delete(ctx, docstore.Join(providersPath(userID), providerID)); err != nil {
		return a.writeFailed("remove provider", err, providerID)
	}
	return nil
}

// === Models ===

// LoadModels loads one bucket: "system", a provider id, or custom_{providerId}.
func (a *Adapter) LoadModels(ctx context.Context, userID, bucket string) ([]entity.Model, error) {
	if err := requireUser(userID); err != nil {
		return []entity.Model{}, err
	}
	docs, err := a.store.Query(ctx, docstore.Query{Collection: modelsPath(userID, bucket)})
	if err != nil {
		a.readFailed("load models", err, bucket)
		return []entity.Model{}, err
	}
	out := make([]entity.Model, 0, len(docs))
	for _, d := range docs {
		m, err := decodeModel(d)
		if err != nil {
			a.logger.Warn("Skipping unreadable model", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SaveModels upserts models into a bucket; duplicates keep the first entry.
func (a *Adapter) SaveModels(ctx context.Context, userID, bucket string, models []entity.Model) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if bucket == "" {
		return apperrors.NewInvalidInputError("empty model bucket")
	}
	models = service.DedupeByID(models)
	w := a.newWriter()
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid model", err)
		}
		data, err := encodeModel(m)
		if err != nil {
			return apperrors.NewInternalErrorWithCause("encode model", err)
		}
		if err := w.set(ctx, docstore.Join(modelsPath(userID, bucket), EncodeModelKey(m.ID)), data); err != nil {
			return a.writeFailed("save models", err, bucket)
		}
	}
	if err := w.flush(ctx); err != nil {
		return a.writeFailed("save models", err, bucket)
	}
	return nil
}

// RemoveModel 删除单个模型
func (a *Adapter) RemoveModel(ctx context.Context, userID, bucket, modelID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := a.store.Delete(ctx, docstore.Join(modelsPath(userID, bucket), EncodeModelKey(modelID))); err != nil {
		return a.writeFailed("remove model", err, modelID)
	}
	return nil
}

// ListModelBuckets returns the model collections that hold documents.
func (a *Adapter) ListModelBuckets(ctx context.Context, userID string) ([]string, error) {
	if err := requireUser(userID); err != nil {
		return []string{}, err
	}
	buckets, err := a.store.ListCollections(ctx, modelsRoot(userID))
	if err != nil {
		a.readFailed("list model collections", err, userID)
		return []string{}, err
	}
	sort.Strings(buckets)
	return buckets, nil
}

// === Selected models ===

// LoadSelectedModels 加载已启用的模型 ID
func (a *Adapter) LoadSelectedModels(ctx context.Context, userID string) ([]string, error) {
	if err := requireUser(userID); err != nil {
		return []string{}, err
	}
	doc, err := a.store.Get(ctx, settingsPath(userID, selectedModelsDoc))
	if apperrors.IsNotFound(err) {
		return []string{}, nil
	}
	if err != nil {
		a.readFailed("load selected models", err, userID)
		return []string{}, err
	}
	var body selectedModelsDocBody
	if err := fromData(doc.Data, &body); err != nil {
		a.logger.Warn("Unreadable selected models", zap.Error(err))
		return []string{}, apperrors.Wrap(apperrors.CodeCorruptData, "selected models", err)
	}
	if body.IDs == nil {
		body.IDs = []string{}
	}
	return body.IDs, nil
}

// SaveSelectedModels replaces the selection.
func (a *Adapter) SaveSelectedModels(ctx context.Context, userID string, modelIDs []string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	data, err := toData(selectedModelsDocBody{
		IDs:       service.UnionStrings(modelIDs, nil),
		UpdatedAt: millis(a.now()),
	})
	if err != nil {
		return apperrors.NewInternalErrorWithCause("encode selected models", err)
	}
	if err := a.store.Set(ctx, settingsPath(userID, selectedModelsDoc), data); err != nil {
		return a.writeFailed("save selected models", err, userID)
	}
	return nil
}

// === Snapshot ===

// LoadSnapshot reads the whole configuration. exists is false when the
// user has never synced and holds no configuration.
func (a *Adapter) LoadSnapshot(ctx context.Context, userID string) (*entity.ConfigSnapshot, bool, error) {
	snap := entity.NewConfigSnapshot()
	if err := requireUser(userID); err != nil {
		return snap, false, err
	}

	var err error
	if snap.Providers, err = a.LoadProviders(ctx, userID); err != nil {
		return snap, false, err
	}
	buckets, err := a.ListModelBuckets(ctx, userID)
	if err != nil {
		return snap, false, err
	}
	for _, b := range buckets {
		models, err := a.LoadModels(ctx, userID, b)
		if err != nil {
			return snap, false, err
		}
		snap.SetBucket(b, models)
	}
	if snap.SelectedModels, err = a.LoadSelectedModels(ctx, userID); err != nil {
		return snap, false, err
	}

	marker, err := a.store.Get(ctx, settingsPath(userID, syncDoc))
	switch {
	case err == nil:
		var body syncDocBody
		if fromData(marker.Data, &body) == nil {
			snap.LastUpdated = fromMillis(body.LastUpdated)
		}
		return snap, true, nil
	case apperrors.IsNotFound(err):
		return snap, !snap.IsEmpty(), nil
	default:
		a.readFailed("load sync marker", err, userID)
		return snap, false, err
	}
}

// SaveSnapshot upserts every entity of snap and records the sync marker.
func (a *Adapter) SaveSnapshot(ctx context.Context, userID string, snap *entity.ConfigSnapshot) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	snap = service.NormalizeSnapshot(snap)
	if err := a.SaveProviders(ctx, userID, snap.Providers); err != nil {
		return err
	}
	for bucket, models := range snap.Buckets() {
		if err := a.SaveModels(ctx, userID, bucket, models); err != nil {
			return err
		}
	}
	if err := a.SaveSelectedModels(ctx, userID, snap.SelectedModels); err != nil {
		return err
	}

	last := snap.LastUpdated
	if last.IsZero() {
		last = a.now()
	}
	data, err := toData(syncDocBody{
		LastUpdated: millis(last),
		Providers:   len(snap.Providers),
		Models:      snap.ModelCount(),
	})
	if err != nil {
		return apperrors.NewInternalErrorWithCause("encode sync marker", err)
	}
	if err := a.store.Set(ctx, settingsPath(userID, syncDoc), data); err != nil {
		return a.writeFailed("save sync marker", err, userID)
	}
	return nil
}
