package localstore

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/chatsync/internal/infrastructure/persistence/models"
)

// GormSubstrate stores keys in the local_kv table.
type GormSubstrate struct {
	db *gorm.DB
}

// NewGormSubstrate 创建数据库存储, db 需已迁移 local_kv 表
func NewGormSubstrate(db *gorm.DB) *GormSubstrate {
	return &GormSubstrate{db: db}
}

func (g *GormSubstrate) Read(key string) ([]byte, bool, error) {
	var row models.LocalKVModel
	if err := g.db.First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row.Value, true, nil
}

func (g *GormSubstrate) Write(key string, data []byte) error {
	row := models.LocalKVModel{Key: key, Value: data, UpdatedAt: time.Now().UTC()}
	return g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (g *GormSubstrate) Remove(key string) error {
	return g.db.Delete(&models.LocalKVModel{}, "key = ?", key).Error
}

func (g *GormSubstrate) Keys() ([]string, error) {
	var keys []string
	if err := g.db.Model(&models.LocalKVModel{}).Order("key").Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
