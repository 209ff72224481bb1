// Package discovery 从多个集群发现 llm-d 推理栈拓扑。
//
// 集群按顺序逐个处理，单个集群内的子查询并行执行；每个集群完成后立即把结果合并进
// 全局集合并持久化，读者可以看到逐步收敛的视图。查询失败的集群保留之前已知的栈，
// 不会因为一次网络抖动被清空。
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clay-wangzhi/llmd-polaris/internal/metrics"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/snapshot"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// Phase 发现周期阶段
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseSettled Phase = "settled"
)

// Outcome 单个集群在一个周期中的结果
type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomePartial Outcome = "partial"
	OutcomeMerged  Outcome = "merged"
)

// Reason 结果原因
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonUnreachable Reason = "unreachable"
	ReasonFailed      Reason = "failed"
	ReasonEmpty       Reason = "empty"
	ReasonCancelled   Reason = "cancelled"
)

// ClusterOutcome 单个集群的发现结果
type ClusterOutcome struct {
	Cluster string    `json:"cluster"`
	Outcome Outcome   `json:"outcome"`
	Reason  Reason    `json:"reason,omitempty"`
	Stacks  int       `json:"stacks"`
	Errors  []string  `json:"errors,omitempty"`
	At      time.Time `json:"at"`
}

// State 对外暴露的发现状态
type State struct {
	Stacks       []models.Stack   `json:"stacks"`
	IsLoading    bool             `json:"isLoading"`
	IsRefreshing bool             `json:"isRefreshing"`
	Error        string           `json:"error,omitempty"`
	LastRefresh  *time.Time       `json:"lastRefresh,omitempty"`
	Phase        Phase            `json:"phase"`
	CycleID      string           `json:"cycleId,omitempty"`
	Outcomes     []ClusterOutcome `json:"outcomes,omitempty"`
}

// Config 发现引擎配置
type Config struct {
	Interval       time.Duration
	QueryTimeout   time.Duration
	WarmStartDelay time.Duration
	PodSelector    string
}

var errNoClusterLister = errors.New("未配置集群来源")

// ClusterLister 返回需要发现的集群名称（按处理顺序）
type ClusterLister func(ctx context.Context) ([]string, error)

// OutcomeHook 每个集群处理完成后调用
type OutcomeHook func(ClusterOutcome)

// Option 引擎选项
type Option func(*Engine)

// WithSnapshot 设置快照持久化
func WithSnapshot(bridge *snapshot.Bridge[[]models.Stack]) Option {
	return func(e *Engine) {
		e.bridge = bridge
	}
}

// WithClusterLister 设置集群来源，Run 与 Refetch 使用
func WithClusterLister(lister ClusterLister) Option {
	return func(e *Engine) {
		e.lister = lister
	}
}

// WithOutcomeHook 注册集群结果回调
func WithOutcomeHook(hook OutcomeHook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hook)
	}
}

// WithResolvers 替换扩缩容器解析顺序
func WithResolvers(resolvers ...Resolver) Option {
	return func(e *Engine) {
		e.resolvers = resolvers
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine 推理栈发现引擎
type Engine struct {
	exec      Executor
	cfg       Config
	queries   []Query
	resolvers []Resolver
	bridge    *snapshot.Bridge[[]models.Stack]
	lister    ClusterLister
	hooks     []OutcomeHook
	now       func() time.Time

	running atomic.Bool

	mu          sync.RWMutex
	stacks      map[string]models.Stack
	view        []models.Stack
	hasData     bool
	settled     bool
	phase       Phase
	cycleID     string
	outcomes    []ClusterOutcome
	lastRefresh time.Time
	lastErr     string
}

// NewEngine 创建发现引擎
func NewEngine(exec Executor, cfg Config, opts ...Option) *Engine {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	e := &Engine{
		exec:      exec,
		cfg:       cfg,
		queries:   DefaultQueries(cfg.PodSelector),
		resolvers: DefaultResolvers(),
		now:       time.Now,
		stacks:    make(map[string]models.Stack),
		view:      []models.Stack{},
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover 对给定集群执行一个完整的发现周期
//
// 同一引擎同时只允许一个周期，重复调用返回 ErrDiscoveryInProgress。单个集群失败不会使
// 整个周期失败；ctx 取消时在集群之间停止，剩余集群记为 cancelled。
func (e *Engine) Discover(ctx context.Context, clusters []string) ([]ClusterOutcome, error) {
	if !e.running.CompareAndSwap(false, true) {
		metrics.RecordDiscoveryCycle("rejected")
		return nil, ErrDiscoveryInProgress
	}
	defer e.running.Store(false)

	cycleID := uuid.NewString()
	e.mu.Lock()
	e.phase = PhaseRunning
	e.cycleID = cycleID
	e.outcomes = nil
	e.mu.Unlock()

	logger.Info("开始发现推理栈", "cycle", cycleID, "clusters", len(clusters))
	start := time.Now()

	outcomes := make([]ClusterOutcome, 0, len(clusters))
	for i, cluster := range clusters {
		if ctx.Err() != nil {
			for _, rest := range clusters[i:] {
				out := ClusterOutcome{Cluster: rest, Outcome: OutcomeSkipped, Reason: ReasonCancelled, At: e.now()}
				outcomes = append(outcomes, out)
				e.record(out)
			}
			break
		}
		out := e.discoverCluster(ctx, cluster)
		outcomes = append(outcomes, out)
		e.record(out)
	}

	e.settle(outcomes)

	result := "settled"
	if ctx.Err() != nil {
		result = "cancelled"
	}
	metrics.RecordDiscoveryCycle(result)
	logger.Info("发现周期结束", "cycle", cycleID, "result", result, "duration", time.Since(start).String())
	return outcomes, ctx.Err()
}

// queryResult 子查询结果
type queryResult struct {
	data []byte
	err  *QueryError
}

// runQueries 并行执行集群的全部子查询，每个子查询独立超时
func (e *Engine) runQueries(ctx context.Context, cluster string) map[string]queryResult {
	results := make([]queryResult, len(e.queries))
	var g errgroup.Group
	for i, q := range e.queries {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
			defer cancel()

			start := time.Now()
			data, err := e.exec.Execute(qctx, cluster, q)
			if err != nil {
				results[i] = queryResult{err: newQueryError(cluster, q.Name, err)}
				metrics.ObserveQuery(q.Name, string(results[i].err.Kind), time.Since(start))
				return nil
			}
			results[i] = queryResult{data: data}
			metrics.ObserveQuery(q.Name, "ok", time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]queryResult, len(results))
	for i, q := range e.queries {
		out[q.Name] = results[i]
	}
	return out
}

// discoverCluster 处理单个集群
func (e *Engine) discoverCluster(ctx context.Context, cluster string) ClusterOutcome {
	out := ClusterOutcome{Cluster: cluster}
	results := e.runQueries(ctx, cluster)

	podRes := results[QueryPods]
	if podRes.err != nil {
		out.Outcome = OutcomeSkipped
		out.Reason = ReasonFailed
		if podRes.err.Kind == KindUnreachable {
			out.Reason = ReasonUnreachable
		}
		out.Errors = []string{podRes.err.Error()}
		out.At = e.now()
		logger.Warn("集群 Pod 查询失败，保留已知推理栈", "cluster", cluster, "kind", podRes.err.Kind, "error", podRes.err.Err)
		return out
	}
	pods, err := ParsePods(podRes.data)
	if err != nil {
		out.Outcome = OutcomeSkipped
		out.Reason = ReasonFailed
		out.Errors = []string{err.Error()}
		out.At = e.now()
		logger.Warn("集群 Pod 响应无法解析，保留已知推理栈", "cluster", cluster, "error", err)
		return out
	}

	var errs []string
	collect := func(name string, parse func([]byte) error) bool {
		res := results[name]
		if res.err != nil {
			if res.err.Kind == KindNotServed {
				return true
			}
			errs = append(errs, res.err.Error())
			return false
		}
		if err := parse(res.data); err != nil {
			errs = append(errs, err.Error())
			return false
		}
		return true
	}

	data := ClusterData{Pods: pods}
	poolsOK := collect(QueryPools, func(b []byte) (err error) {
		data.Pools, err = ParsePools(b)
		return err
	})

	if len(pods) == 0 && len(data.Pools) == 0 {
		out.At = e.now()
		if !poolsOK {
			out.Outcome = OutcomeSkipped
			out.Reason = ReasonFailed
			out.Errors = errs
			return out
		}
		// 栈的生命周期：集群确认不再运行推理服务时移除。pods 与 pools 查询均成功且为空即为确认，
		// 因此清空该集群的旧栈而不是跳过；查询失败的情况在上面跳过
		e.merge(cluster, nil)
		out.Outcome = OutcomeMerged
		out.Reason = ReasonEmpty
		return out
	}

	collect(QueryServices, func(b []byte) (err error) {
		data.Services, err = ParseServices(b)
		return err
	})
	collect(QueryGateways, func(b []byte) (err error) {
		data.Gateways, err = ParseGateways(b)
		return err
	})
	for _, q := range []struct {
		name  string
		parse func([]byte) ([]AutoscalerRecord, error)
	}{
		{QueryVariants, ParseVariantAutoscalings},
		{QueryHPAs, ParseHPAs},
		{QueryVPAs, ParseVPAs},
	} {
		collect(q.name, func(b []byte) error {
			recs, err := q.parse(b)
			if err != nil {
				return err
			}
			data.Autoscalers = append(data.Autoscalers, recs...)
			return nil
		})
	}

	now := e.now()
	stacks := BuildStacks(cluster, data, e.resolvers, now)
	e.merge(cluster, stacks)

	out.Stacks = len(stacks)
	out.At = now
	out.Outcome = OutcomeMerged
	if len(errs) > 0 {
		out.Outcome = OutcomePartial
		out.Errors = errs
		logger.Warn("集群部分子查询失败", "cluster", cluster, "errors", len(errs))
	}
	return out
}

// merge 替换某集群的全部栈，重新排序后发布并持久化
func (e *Engine) merge(cluster string, stacks []models.Stack) {
	e.mu.Lock()
	for id, s := range e.stacks {
		if s.Cluster == cluster {
			delete(e.stacks, id)
		}
	}
	for _, s := range stacks {
		e.stacks[s.ID] = s.Clone()
	}
	e.publishLocked()
	e.hasData = true
	view := e.view
	e.mu.Unlock()

	metrics.SetStackCount(len(view))
	if e.bridge != nil {
		e.bridge.Save(view)
	}
}

// publishLocked 以新切片替换只读视图，调用方需持有写锁
func (e *Engine) publishLocked() {
	view := make([]models.Stack, 0, len(e.stacks))
	for _, s := range e.stacks {
		view = append(view, s)
	}
	SortStacks(view)
	e.view = view
}

func (e *Engine) record(out ClusterOutcome) {
	e.mu.Lock()
	e.outcomes = append(e.outcomes, out)
	e.mu.Unlock()

	metrics.RecordClusterOutcome(out.Cluster, string(out.Outcome), string(out.Reason))
	for _, hook := range e.hooks {
		hook(out)
	}
}

func (e *Engine) settle(outcomes []ClusterOutcome) {
	failed := 0
	for _, o := range outcomes {
		if o.Outcome == OutcomeSkipped && (o.Reason == ReasonUnreachable || o.Reason == ReasonFailed) {
			failed++
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseSettled
	e.settled = true
	e.lastRefresh = e.now()
	switch {
	case len(outcomes) > 0 && failed == len(outcomes):
		e.lastErr = "所有集群均无法查询"
	case failed > 0:
		e.lastErr = fmt.Sprintf("%d/%d 个集群查询失败", failed, len(outcomes))
	default:
		e.lastErr = ""
	}
}

// Stacks 当前栈集合的副本
func (e *Engine) Stacks() []models.Stack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneStacks(e.view)
}

// State 当前状态
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// 首个周期结束前（有集群来源时包括尚未开始）且没有快照数据视为加载中
	running := e.phase == PhaseRunning
	known := e.hasData || e.settled
	s := State{
		Stacks:       cloneStacks(e.view),
		IsLoading:    !known && (running || e.lister != nil),
		IsRefreshing: running && known,
		Error:        e.lastErr,
		Phase:        e.phase,
		CycleID:      e.cycleID,
		Outcomes:     append([]ClusterOutcome(nil), e.outcomes...),
	}
	if !e.lastRefresh.IsZero() {
		t := e.lastRefresh
		s.LastRefresh = &t
	}
	return s
}

func cloneStacks(in []models.Stack) []models.Stack {
	out := make([]models.Stack, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// LoadSnapshot 从持久化快照恢复栈集合，返回快照是否存在以及是否仍在有效期内
func (e *Engine) LoadSnapshot() (loaded, fresh bool) {
	if e.bridge == nil {
		return false, false
	}
	snap, ok := e.bridge.Load()
	if !ok {
		return false, false
	}

	e.mu.Lock()
	for _, s := range snap.Data {
		if s.ID == "" {
			s.Finalize()
		}
		e.stacks[s.ID] = s
	}
	e.publishLocked()
	e.hasData = true
	e.lastRefresh = snap.Timestamp
	n := len(e.view)
	e.mu.Unlock()

	metrics.SetStackCount(n)
	fresh = e.bridge.Fresh(snap)
	logger.Info("已加载推理栈快照", "stacks", n, "fresh", fresh, "age", e.now().Sub(snap.Timestamp).String())
	return true, fresh
}

// Refetch 在后台触发一次发现周期，已有周期在运行时返回 ErrDiscoveryInProgress
func (e *Engine) Refetch(ctx context.Context) error {
	if e.lister == nil {
		return errNoClusterLister
	}
	if e.running.Load() {
		return ErrDiscoveryInProgress
	}
	go e.cycle(context.WithoutCancel(ctx))
	return nil
}

// Run 周期性执行发现，直到 ctx 取消
//
// 启动时先加载快照立即可读：快照新鲜则首个周期延迟 WarmStartDelay，过期或不存在则立即执行。
func (e *Engine) Run(ctx context.Context) {
	delay := time.Duration(0)
	if loaded, fresh := e.LoadSnapshot(); loaded && fresh {
		delay = e.cfg.WarmStartDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.cycle(ctx)
			timer.Reset(e.cfg.Interval)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	if e.lister == nil {
		return
	}
	clusters, err := e.lister(ctx)
	if err != nil {
		logger.Error("获取集群列表失败", "error", err)
		e.mu.Lock()
		e.phase = PhaseSettled
		e.settled = true
		e.lastErr = "获取集群列表失败: " + err.Error()
		e.mu.Unlock()
		return
	}
	if _, err := e.Discover(ctx, clusters); err != nil && ctx.Err() == nil {
		logger.Warn("发现周期未执行", "error", err)
	}
}
