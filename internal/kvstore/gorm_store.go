package kvstore

import (
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 kv_entries 表的存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建数据库存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetItem 读取键值
func (s *GormStore) GetItem(key string) (string, bool) {
	var entries []models.KVEntry
	if err := s.db.Where("cache_key = ?", key).Limit(1).Find(&entries).Error; err != nil {
		logger.Warn("读取缓存记录失败", "key", key, "error", err)
		return "", false
	}
	if len(entries) == 0 {
		return "", false
	}
	return entries[0].Value, true
}

// SetItem 写入键值（存在则更新）
func (s *GormStore) SetItem(key, value string) {
	entry := models.KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		logger.Warn("写入缓存记录失败", "key", key, "error", err)
	}
}

// RemoveItem 删除键值
func (s *GormStore) RemoveItem(key string) {
	if err := s.db.Where("cache_key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		logger.Warn("删除缓存记录失败", "key", key, "error", err)
	}
}
