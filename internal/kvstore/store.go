// Package kvstore 提供持久化键值存储能力，供数据新鲜度缓存与发现快照使用。
//
// 存储不可用（数据库断开、写入失败、容量不足）时所有操作静默降级为空操作，
// 只记录告警日志，从不把错误返回给调用方。
package kvstore

import (
	"fmt"
	"sync"

	"github.com/clay-wangzhi/llmd-polaris/internal/config"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"

	"gorm.io/gorm"
)

// Store 持久化键值存储
type Store interface {
	// GetItem 读取键值，不存在或存储不可用时返回 false
	GetItem(key string) (string, bool)
	// SetItem 写入键值，失败时静默忽略
	SetItem(key, value string)
	// RemoveItem 删除键值，失败时静默忽略
	RemoveItem(key string)
}

// 存储后端
const (
	BackendDatabase = "database"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

// Open 按配置创建存储后端，失败时回退到内存存储
func Open(cfg config.CacheConfig, db *gorm.DB) (Store, func() error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case BackendDatabase, "":
		if db == nil {
			logger.Warn("数据库未初始化，缓存回退到内存存储")
			return NewMemoryStore(), noop
		}
		return NewGormStore(db), noop
	case BackendBadger:
		bs, err := OpenBadger(BadgerConfig{Path: cfg.BadgerPath})
		if err != nil {
			logger.Warn("打开 Badger 存储失败，缓存回退到内存存储", "path", cfg.BadgerPath, "error", err)
			return NewMemoryStore(), noop
		}
		return bs, bs.Close
	case BackendMemory:
		return NewMemoryStore(), noop
	default:
		logger.Warn(fmt.Sprintf("未知的缓存存储类型 %q，使用内存存储", cfg.Store))
		return NewMemoryStore(), noop
	}
}

// MemoryStore 进程内存储（不跨进程持久化）
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStore) SetItem(key, value string) {
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()
}

func (m *MemoryStore) RemoveItem(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Len 当前条目数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
