package models

import "time"

// LocalKVModel 本地键值存储表
type LocalKVModel struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (LocalKVModel) TableName() string {
	return "local_kv"
}
