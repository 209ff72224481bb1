// Package snapshot 负责把最后一次成功的数据快照连同时间戳写入持久化存储，
// 用于冷启动时立即展示以及在集群短暂不可用时保留已知状态。
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/kvstore"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// DefaultTTL 快照可直接展示的有效期
const DefaultTTL = 5 * time.Minute

// Snapshot 快照及其保存时间
type Snapshot[T any] struct {
	Data      T         `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Fresh 快照在 now 时刻是否仍在有效期内
func (s Snapshot[T]) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.Timestamp) < ttl
}

// Age 快照年龄
func (s Snapshot[T]) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

type record[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Bridge 快照读写
type Bridge[T any] struct {
	store kvstore.Store
	key   string
	ttl   time.Duration
	now   func() time.Time
}

// NewBridge 创建快照读写器，ttl<=0 时使用默认值
func NewBridge[T any](store kvstore.Store, key string, ttl time.Duration) *Bridge[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bridge[T]{store: store, key: key, ttl: ttl, now: time.Now}
}

// WithClock 替换时钟
func (b *Bridge[T]) WithClock(now func() time.Time) *Bridge[T] {
	b.now = now
	return b
}

// TTL 有效期
func (b *Bridge[T]) TTL() time.Duration {
	return b.ttl
}

// Load 读取快照，不存在或无法解析时返回 false，从不报错
func (b *Bridge[T]) Load() (Snapshot[T], bool) {
	if b.store == nil {
		return Snapshot[T]{}, false
	}
	raw, ok := b.store.GetItem(b.key)
	if !ok || raw == "" {
		return Snapshot[T]{}, false
	}

	var rec record[T]
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logger.Warn("快照数据损坏，忽略", "key", b.key, "error", err)
		return Snapshot[T]{}, false
	}
	if rec.Timestamp <= 0 {
		return Snapshot[T]{}, false
	}
	return Snapshot[T]{Data: rec.Data, Timestamp: time.UnixMilli(rec.Timestamp)}, true
}

// Save 以当前时间保存快照，存储不可用时静默忽略
func (b *Bridge[T]) Save(data T) {
	if b.store == nil {
		return
	}
	raw, err := json.Marshal(record[T]{Data: data, Timestamp: b.now().UnixMilli()})
	if err != nil {
		logger.Warn("序列化快照失败", "key", b.key, "error", err)
		return
	}
	b.store.SetItem(b.key, string(raw))
}

// Fresh 快照是否在有效期内
func (b *Bridge[T]) Fresh(s Snapshot[T]) bool {
	return s.Fresh(b.now(), b.ttl)
}

// Clear 删除快照
func (b *Bridge[T]) Clear() {
	if b.store == nil {
		return
	}
	b.store.RemoveItem(b.key)
}
