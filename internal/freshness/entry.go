package freshness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/kvstore"
	"github.com/clay-wangzhi/llmd-polaris/internal/metrics"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// FailureThreshold 连续失败达到该次数后切换为演示数据
const FailureThreshold = 3

// DefaultTTL 持久化记录的默认有效期
const DefaultTTL = 5 * time.Minute

// persistPrefix 持久化键前缀
const persistPrefix = "cache:"

// Fetcher 拉取函数
type Fetcher[T any] func(ctx context.Context) (T, error)

// Options 缓存条目选项
type Options[T any] struct {
	Fetcher      Fetcher[T]
	InitialValue T
	DemoValue    T
	// TTL 持久化记录在重建时的有效期，默认 5 分钟
	TTL time.Duration
	// RefreshInterval 定时刷新间隔，<=0 表示只在创建时与手动触发时拉取
	RefreshInterval time.Duration
	// Persist 成功拉取后写入持久化存储
	Persist bool
	// DemoWhenEmpty 拉取成功但结果为空时报告演示数据
	DemoWhenEmpty bool
	// IsEmpty 自定义空值判断，默认空切片、空 map、空字符串与 nil 指针视为空
	IsEmpty func(T) bool
}

// State 缓存条目对外状态
type State[T any] struct {
	Value               T          `json:"value"`
	IsLoading           bool       `json:"isLoading"`
	IsRefreshing        bool       `json:"isRefreshing"`
	IsFailed            bool       `json:"isFailed"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	IsDemoFallback      bool       `json:"isDemoFallback"`
	LastFetchedAt       *time.Time `json:"lastFetchedAt,omitempty"`
}

// persistedRecord 持久化记录格式
type persistedRecord[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Entry 单个缓存键的条目
type Entry[T any] struct {
	key   string
	opts  Options[T]
	store kvstore.Store
	now   func() time.Time

	fetching atomic.Bool

	mu            sync.RWMutex
	value         T
	hasValue      bool
	attempts      int
	failures      int
	emptyDemo     bool
	lastFetchedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newEntry[T any](key string, opts Options[T], store kvstore.Store, now func() time.Time) *Entry[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Entry[T]{
		key:   key,
		opts:  opts,
		store: store,
		now:   now,
		value: opts.InitialValue,
	}
}

// Key 缓存键
func (e *Entry[T]) Key() string {
	return e.key
}

// State 返回当前状态快照
func (e *Entry[T]) State() State[T] {
	fetching := e.fetching.Load()

	e.mu.RLock()
	defer e.mu.RUnlock()

	s := State[T]{
		Value:               e.value,
		IsLoading:           !e.hasValue && (fetching || e.attempts == 0),
		IsRefreshing:        fetching && e.hasValue,
		IsFailed:            e.failures >= FailureThreshold,
		ConsecutiveFailures: e.failures,
	}
	s.IsDemoFallback = s.IsFailed || e.emptyDemo
	if s.IsDemoFallback {
		s.Value = e.opts.DemoValue
	}
	if !e.lastFetchedAt.IsZero() {
		t := e.lastFetchedAt
		s.LastFetchedAt = &t
	}
	return s
}

// Snapshot 以 any 类型返回状态
func (e *Entry[T]) Snapshot() State[any] {
	s := e.State()
	return State[any]{
		Value:               s.Value,
		IsLoading:           s.IsLoading,
		IsRefreshing:        s.IsRefreshing,
		IsFailed:            s.IsFailed,
		ConsecutiveFailures: s.ConsecutiveFailures,
		IsDemoFallback:      s.IsDemoFallback,
		LastFetchedAt:       s.LastFetchedAt,
	}
}

// Refresh 执行一次拉取
//
// 已有拉取在进行时立即返回 false，不排队。
func (e *Entry[T]) Refresh(ctx context.Context) bool {
	if !e.fetching.CompareAndSwap(false, true) {
		metrics.RecordDroppedRefresh(e.key)
		return false
	}
	defer e.fetching.Store(false)

	result, err := e.fetch(ctx)
	now := e.now()

	e.mu.Lock()
	e.attempts++
	if err != nil {
		e.failures++
		failures := e.failures
		e.mu.Unlock()

		if failures == FailureThreshold {
			logger.Warn("缓存连续拉取失败，切换为演示数据", "key", e.key, "failures", failures, "error", err)
		} else {
			logger.Debug("缓存拉取失败", "key", e.key, "failures", failures, "error", err)
		}
		metrics.RecordCacheFetch(e.key, "failure", failures)
		return true
	}

	e.failures = 0
	if e.opts.DemoWhenEmpty && e.isEmpty(result) {
		e.emptyDemo = true
		e.lastFetchedAt = now
		e.mu.Unlock()
		metrics.RecordCacheFetch(e.key, "empty", 0)
		return true
	}

	e.value = result
	e.hasValue = true
	e.emptyDemo = false
	e.lastFetchedAt = now
	e.mu.Unlock()

	if e.opts.Persist {
		e.persist(result, now)
	}
	metrics.RecordCacheFetch(e.key, "success", 0)
	return true
}

// fetch 调用 fetcher，panic 按失败处理
func (e *Entry[T]) fetch(ctx context.Context) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panic: %v", r)
		}
	}()
	return e.opts.Fetcher(ctx)
}

func (e *Entry[T]) isEmpty(v T) bool {
	if e.opts.IsEmpty != nil {
		return e.opts.IsEmpty(v)
	}
	return isEmptyValue(v)
}

// isEmptyValue 默认空值判断
func isEmptyValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String, reflect.Chan:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func (e *Entry[T]) persist(v T, at time.Time) {
	if e.store == nil {
		return
	}
	data, err := json.Marshal(persistedRecord[T]{Data: v, Timestamp: at.UnixMilli()})
	if err != nil {
		logger.Warn("序列化缓存记录失败", "key", e.key, "error", err)
		return
	}
	e.store.SetItem(persistPrefix+e.key, string(data))
}

// rehydrate 从持久化存储恢复未过期的记录
func (e *Entry[T]) rehydrate() {
	if !e.opts.Persist || e.store == nil {
		return
	}
	raw, ok := e.store.GetItem(persistPrefix + e.key)
	if !ok {
		return
	}
	var rec persistedRecord[T]
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Timestamp <= 0 {
		logger.Debug("忽略无法解析的缓存记录", "key", e.key)
		return
	}
	at := time.UnixMilli(rec.Timestamp)
	if e.now().Sub(at) >= e.opts.TTL {
		return
	}

	e.mu.Lock()
	e.value = rec.Data
	e.hasValue = true
	e.lastFetchedAt = at
	e.mu.Unlock()
}

// start 启动后台刷新：先立即拉取一次，再按间隔刷新
func (e *Entry[T]) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		e.Refresh(ctx)
		if e.opts.RefreshInterval <= 0 {
			return
		}
		ticker := time.NewTicker(e.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Refresh(ctx)
			}
		}
	}()
}

func (e *Entry[T]) stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}
