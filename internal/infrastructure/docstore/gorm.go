package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/chatsync/internal/infrastructure/persistence/models"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// GormStore 基于 GORM 的文档存储 (SQLite / PostgreSQL)
type GormStore struct {
	db       *gorm.DB
	dialect  string
	maxBatch int
	logger   *zap.Logger
}

// NewGormStore wraps a connection opened by persistence.NewDBConnection.
func NewGormStore(db *gorm.DB, maxBatch int, logger *zap.Logger) *GormStore {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:       db,
		dialect:  db.Dialector.Name(),
		maxBatch: maxBatch,
		logger:   logger,
	}
}

func (s *GormStore) MaxBatchSize() int { return s.maxBatch }

func (s *GormStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return nil, err
	}
	var m models.DocumentModel
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("document not found: " + path)
	}
	if err != nil {
		return nil, s.unavailable("get document", err)
	}
	return toDocument(m)
}

func (s *GormStore) Set(ctx context.Context, path string, data map[string]any) error {
	b := s.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (s *GormStore) Delete(ctx context.Context, path string) error {
	b := s.Batch()
	b.Delete(path)
	return b.Commit(ctx)
}

func (s *GormStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Model(&models.DocumentModel{}).Where("collection = ?", q.Collection)
	tx = s.applyFilters(tx, q.Filters)

	dir := "ASC"
	cmp := ">"
	if q.Direction == Desc {
		dir, cmp = "DESC", "<"
	}
	if q.OrderBy != "" {
		expr := s.fieldExpr(q.OrderBy)
		tx = tx.Where(datatypes.JSONQuery("data").HasKey(q.OrderBy))
		if q.StartAfter != nil {
			v, cast := s.param(q.StartAfter.Value)
			tx = tx.Where(fmt.Sprintf("((%s %s %s) OR (%s = %s AND path %s ?))", expr, cmp, cast, expr, cast, cmp),
				v, v, Join(q.Collection, q.StartAfter.ID))
		}
		tx = tx.Order(expr + " " + dir)
	} else if q.StartAfter != nil {
		tx = tx.Where("path "+cmp+" ?", Join(q.Collection, q.StartAfter.ID))
	}
	tx = tx.Order("path " + dir)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []models.DocumentModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, s.unavailable("query documents", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, m := range rows {
		d, err := toDocument(m)
		if err != nil {
			s.logger.Warn("Skipping corrupt document", zap.String("path", m.Path), zap.Error(err))
			continue
		}
		docs = append(docs, *d)
	}
	return docs, nil
}

func (s *GormStore) Count(ctx context.Context, q CountQuery) (int64, error) {
	if err := validateCount(q); err != nil {
		return 0, err
	}
	tx := s.db.WithContext(ctx).Model(&models.DocumentModel{})
	if q.Collection != "" {
		tx = tx.Where("collection = ?", q.Collection)
	} else {
		tx = tx.Where("group_id = ?", q.Group)
		if prefix := strings.TrimSuffix(q.Prefix, "/"); prefix != "" {
			tx = tx.Where(`path LIKE ? ESCAPE '\'`, escapeLike(prefix)+"/%")
		}
	}
	tx = s.applyFilters(tx, q.Filters)

	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, s.unavailable("count documents", err)
	}
	return n, nil
}

func (s *GormStore) ListCollections(ctx context.Context, docPath string) ([]string, error) {
	if docPath != "" {
		if err := ValidateDocPath(docPath); err != nil {
			return nil, err
		}
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.DocumentModel{}).
		Where("parent = ?", docPath).
		Distinct().Order("group_id").
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, s.unavailable("list collections", err)
	}
	return ids, nil
}

func (s *GormStore) Batch() WriteBatch {
	return &gormBatch{store: s}
}

// Close 关闭底层连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) applyFilters(tx *gorm.DB, filters []Filter) *gorm.DB {
	for _, f := range filters {
		expr := s.fieldExpr(f.Field)
		v := NormalizeValue(f.Value)
		if v == nil {
			tx = tx.Where(s.nullExpr(f.Field))
			continue
		}
		p, cast := s.param(v)
		tx = tx.Where(expr+" = "+cast, p)
	}
	return tx
}

// fieldExpr returns the SQL expression reading a top-level field. The
// field name has already passed ValidateField.
func (s *GormStore) fieldExpr(field string) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("data->'%s'", field)
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

func (s *GormStore) nullExpr(field string) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("data->'%s' = 'null'::jsonb", field)
	}
	return fmt.Sprintf("json_type(data, '$.%s') = 'null'", field)
}

// param converts a comparison value for the dialect. PostgreSQL compares
// jsonb to jsonb; SQLite compares json_extract's SQL value to a scalar.
func (s *GormStore) param(v any) (any, string) {
	v = NormalizeValue(v)
	if s.dialect == "postgres" {
		raw, _ := json.Marshal(v)
		return string(raw), "?::jsonb"
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1, "?"
		}
		return 0, "?"
	case map[string]any, []any:
		raw, _ := json.Marshal(x)
		return string(raw), "?"
	}
	return v, "?"
}

func (s *GormStore) unavailable(op string, err error) error {
	s.logger.Error("Document store failure", zap.String("op", op), zap.Error(err))
	return apperrors.NewUnavailableError(op, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func toDocument(m models.DocumentModel) (*Document, error) {
	var data map[string]any
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCorruptData, "corrupt document "+m.Path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return &Document{Path: m.Path, Data: data}, nil
}

func toModel(op BatchOp, now time.Time) (models.DocumentModel, error) {
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return models.DocumentModel{}, err
	}
	coll := CollectionOf(op.Path)
	return models.DocumentModel{
		Path:       op.Path,
		Collection: coll,
		Parent:     ParentDoc(coll),
		GroupID:    DocID(coll),
		Data:       datatypes.JSON(raw),
		UpdatedAt:  now,
	}, nil
}

type gormBatch struct {
	store *GormStore
	ops   []BatchOp
}

func (b *gormBatch) Set(path string, data map[string]any) {
	b.ops = append(b.ops, BatchOp{Path: path, Data: data})
}

func (b *gormBatch) Delete(path string) {
	b.ops = append(b.ops, BatchOp{Path: path, Delete: true})
}

func (b *gormBatch) Len() int { return len(b.ops) }

func (b *gormBatch) Commit(ctx context.Context) error {
	ops, err := prepareOps(b.ops, b.store.maxBatch)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err = b.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if op.Delete {
				if err := tx.Where("path = ?", op.Path).Delete(&models.DocumentModel{}).Error; err != nil {
					return err
				}
				continue
			}
			m, err := toModel(op, now)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "path"}},
				UpdateAll: true,
			}).Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b.store.unavailable("commit batch", err)
	}
	b.ops = nil
	return nil
}
