package stream

import (
	"context"
	"sync"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/freshness"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// StreamState 流状态
type StreamState string

const (
	StateIdle      StreamState = "idle"
	StateStreaming StreamState = "streaming"
	StateDone      StreamState = "done"
	StateErrored   StreamState = "errored"
)

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Reconciler 累积流批次并与缓存回退状态合并
//
// 一个 Reconciler 同一时刻只有一条流；结束后需 Cancel 回到 idle 才能再次 Start。
type Reconciler[T any] struct {
	name string
	src  Source[T]
	now  func() time.Time

	mu          sync.RWMutex
	state       StreamState
	items       []T
	lastBatchAt time.Time
	err         error
	gen         uint64
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewReconciler 创建流合并器
func NewReconciler[T any](name string, src Source[T]) *Reconciler[T] {
	return &Reconciler[T]{
		name:  name,
		src:   src,
		now:   time.Now,
		state: StateIdle,
	}
}

// Start 启动流，已启动时返回 false
func (r *Reconciler[T]) Start(ctx context.Context) bool {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return false
	}
	r.gen++
	gen := r.gen
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.state = StateStreaming
	r.items = nil
	r.err = nil
	r.lastBatchAt = time.Time{}
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	ch, err := r.src.Open(streamCtx)
	if err != nil {
		logger.Warn("打开数据流失败", "stream", r.name, "error", err)
		r.finish(gen, StateErrored, err)
		close(done)
		return true
	}

	go r.consume(streamCtx, gen, ch, done)
	return true
}

func (r *Reconciler[T]) consume(ctx context.Context, gen uint64, ch <-chan Event[T], done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			r.finish(gen, StateErrored, ctx.Err())
			return
		case ev, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					r.finish(gen, StateErrored, err)
					return
				}
				// 连接关闭视为结束
				r.finish(gen, StateDone, nil)
				return
			}
			switch ev.Type {
			case EventBatch:
				r.append(gen, ev.Items)
			case EventDone:
				r.finish(gen, StateDone, nil)
				return
			case EventError:
				logger.Warn("数据流返回错误", "stream", r.name, "error", ev.Err)
				r.finish(gen, StateErrored, ev.Err)
				return
			}
		}
	}
}

func (r *Reconciler[T]) append(gen uint64, items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.items = append(r.items, items...)
	r.lastBatchAt = r.now()
}

// finish 进入终态，已被取消的旧流不影响当前状态
func (r *Reconciler[T]) finish(gen uint64, state StreamState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.state != StateStreaming {
		return
	}
	r.state = state
	r.err = err
	if r.cancel != nil {
		r.cancel()
	}
}

// Cancel 中止底层传输并丢弃已累积的数据，回到 idle
func (r *Reconciler[T]) Cancel() {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	r.gen++
	cancel := r.cancel
	done := r.done
	r.state = StateIdle
	r.items = nil
	r.err = nil
	r.lastBatchAt = time.Time{}
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Progress 已累积条目数
func (r *Reconciler[T]) Progress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Items 已累积条目的副本
func (r *Reconciler[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// StreamState 当前状态
func (r *Reconciler[T]) StreamState() StreamState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Err 流错误
func (r *Reconciler[T]) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Done 当前流进入终态后关闭；idle 时返回已关闭的通道
func (r *Reconciler[T]) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.done == nil {
		return closedCh
	}
	return r.done
}

// View 合并流数据与缓存回退状态
//
// 已累积的数据非空时优先使用；否则返回 fallback，流进行中时标记为加载/刷新中。
func (r *Reconciler[T]) View(fallback freshness.State[[]T]) freshness.State[[]T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) > 0 {
		items := make([]T, len(r.items))
		copy(items, r.items)
		at := r.lastBatchAt
		return freshness.State[[]T]{
			Value:          items,
			IsRefreshing:   r.state == StateStreaming,
			IsDemoFallback: false,
			LastFetchedAt:  &at,
		}
	}

	view := fallback
	if r.state == StateStreaming {
		if fallback.LastFetchedAt == nil && !fallback.IsDemoFallback {
			view.IsLoading = true
		} else {
			view.IsRefreshing = true
		}
	}
	return view
}
