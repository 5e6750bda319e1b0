package models

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentModel 文档存储表，一行一个文档
type DocumentModel struct {
	Path       string         `gorm:"primaryKey;size:512"`
	Collection string         `gorm:"index;size:512;not null"` // 父集合路径
	Parent     string         `gorm:"index;size:512"`          // 父文档路径，顶层集合为空
	GroupID    string         `gorm:"index;size:128;not null"` // 集合名, 用于 collection-group 查询
	Data       datatypes.JSON `gorm:"not null"`
	UpdatedAt  time.Time
}

// TableName 指定表名
func (DocumentModel) TableName() string {
	return "documents"
}
