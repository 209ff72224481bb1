package models

import "time"

// KVEntry 持久化键值对（前端卡片缓存与发现快照共用）
type KVEntry struct {
	Key       string    `json:"key" gorm:"column:cache_key;primaryKey;size:255"`
	Value     string    `json:"value" gorm:"type:longtext"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (KVEntry) TableName() string {
	return "kv_entries"
}
