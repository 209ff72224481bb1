// Package freshness 实现带 TTL、持久化与演示数据回退的 stale-while-revalidate 缓存。
//
// 每个缓存键对应一个 Entry，由 Registry 在首次使用时创建。Entry 同一时刻最多只有一次
// 拉取在进行，拉取期间到来的刷新请求直接丢弃；连续失败达到 FailureThreshold 次后，
// 对外报告 IsFailed 与 IsDemoFallback，并以 DemoValue 代替真实值展示，但内部保存的
// 最后一次成功值不会被改写。
package freshness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/kvstore"
	"github.com/clay-wangzhi/llmd-polaris/internal/metrics"
)

// ErrTypeMismatch 同一个键以不同的值类型再次使用
var ErrTypeMismatch = errors.New("缓存键已以其他类型注册")

// Handle 与值类型无关的缓存条目视图，供列表、刷新等通用操作使用
type Handle interface {
	Key() string
	Refresh(ctx context.Context) bool
	Snapshot() State[any]
	stop()
}

// Registry 缓存条目注册表
type Registry struct {
	mu      sync.Mutex
	entries map[string]Handle

	store  kvstore.Store
	now    func() time.Time
	manual bool

	ctx    context.Context
	cancel context.CancelFunc
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithStore 设置持久化存储
func WithStore(store kvstore.Store) RegistryOption {
	return func(r *Registry) {
		r.store = store
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithManualRefresh 关闭创建时的自动拉取与定时刷新，只能通过 Refresh 触发
func WithManualRefresh() RegistryOption {
	return func(r *Registry) {
		r.manual = true
	}
}

// NewRegistry 创建注册表
func NewRegistry(opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		entries: make(map[string]Handle),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use 获取缓存条目，不存在时创建
//
// 已存在的条目直接返回，opts 被忽略；值类型不一致时返回 ErrTypeMismatch。
// 持久化记录在锁外读取，并发创建同一个键时以先写入注册表的条目为准。
func Use[T any](r *Registry, key string, opts Options[T]) (*Entry[T], error) {
	r.mu.Lock()
	h, ok := r.entries[key]
	r.mu.Unlock()
	if ok {
		return asEntry[T](key, h)
	}

	if opts.Fetcher == nil {
		return nil, fmt.Errorf("缓存键 %s 未提供 fetcher", key)
	}

	e := newEntry(key, opts, r.store, r.now)
	e.rehydrate()

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.entries[key]; ok {
		return asEntry[T](key, h)
	}
	r.entries[key] = e

	if !r.manual {
		e.start(r.ctx)
	}
	return e, nil
}

func asEntry[T any](key string, h Handle) (*Entry[T], error) {
	e, ok := h.(*Entry[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, key)
	}
	return e, nil
}

// Lookup 按键查找条目
func (r *Registry) Lookup(key string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[key]
	return h, ok
}

// Keys 返回已注册的键（有序）
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Evict 驱逐条目并停止其定时刷新，持久化记录保留
func (r *Registry) Evict(key string) bool {
	r.mu.Lock()
	h, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.stop()
	metrics.ForgetCacheKey(key)
	return true
}

// Close 停止所有条目的后台刷新
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for _, h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
}
