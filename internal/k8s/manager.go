package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// ErrClusterNotFound 集群未注册
var ErrClusterNotFound = errors.New("集群不存在")

// servedCacheTTL 资源注册探测结果的缓存时长，CRD 安装后在该时长内生效
const servedCacheTTL = 5 * time.Minute

// ClusterSource 按名称查找集群定义
type ClusterSource interface {
	GetClusterByName(name string) (*models.Cluster, error)
	ListClusterNames() ([]string, error)
}

// ClientFactory 为集群创建客户端
type ClientFactory func(cluster *models.Cluster, timeout time.Duration) (*Client, error)

// DefaultClientFactory kubeconfig 优先，其次 Token
func DefaultClientFactory(cluster *models.Cluster, timeout time.Duration) (*Client, error) {
	if cluster.KubeconfigEnc != "" {
		return NewClientFromKubeconfig(cluster.KubeconfigEnc, cluster.Context, timeout)
	}
	if cluster.APIServer == "" {
		return nil, fmt.Errorf("集群 %s 缺少连接信息", cluster.Name)
	}
	return NewClientFromToken(cluster.APIServer, cluster.SATokenEnc, cluster.CAEnc, timeout)
}

type servedEntry struct {
	served bool
	// known 为 false 表示探测失败，TTL 内不再探测，直接执行列表查询
	known bool
	at    time.Time
}

// ClusterRuntime 单个集群的运行时客户端
type ClusterRuntime struct {
	name   string
	client *Client

	mu     sync.Mutex
	served map[schema.GroupVersionResource]servedEntry
}

// Client 返回集群客户端
func (rt *ClusterRuntime) Client() *Client {
	return rt.client
}

// ClusterClientManager 统一管理各集群客户端的生命周期
type ClusterClientManager struct {
	mu       sync.RWMutex
	clusters map[string]*ClusterRuntime

	source  ClusterSource
	factory ClientFactory
	timeout time.Duration
	now     func() time.Time
}

// ManagerOption 管理器选项
type ManagerOption func(*ClusterClientManager)

// WithClientFactory 替换客户端构造方式
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *ClusterClientManager) {
		m.factory = f
	}
}

// WithRequestTimeout 设置 REST 客户端超时
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *ClusterClientManager) {
		m.timeout = d
	}
}

// NewClusterClientManager 创建管理器，source 为空时只能使用 EnsureForCluster 注册的集群
func NewClusterClientManager(source ClusterSource, opts ...ManagerOption) *ClusterClientManager {
	m := &ClusterClientManager{
		clusters: make(map[string]*ClusterRuntime),
		source:   source,
		factory:  DefaultClientFactory,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureForCluster 确保指定集群的客户端已创建
func (m *ClusterClientManager) EnsureForCluster(cluster *models.Cluster) (*ClusterRuntime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, ok := m.clusters[cluster.Name]; ok {
		return rt, nil
	}

	client, err := m.factory(cluster, m.timeout)
	if err != nil {
		return nil, fmt.Errorf("为集群创建客户端失败: %w", err)
	}
	rt := &ClusterRuntime{
		name:   cluster.Name,
		client: client,
		served: make(map[schema.GroupVersionResource]servedEntry),
	}
	m.clusters[cluster.Name] = rt
	logger.Info("集群客户端已创建", "cluster", cluster.Name)
	return rt, nil
}

// Runtime 返回集群运行时，未创建时从 ClusterSource 加载
func (m *ClusterClientManager) Runtime(name string) (*ClusterRuntime, error) {
	m.mu.RLock()
	rt, ok := m.clusters[name]
	m.mu.RUnlock()
	if ok {
		return rt, nil
	}

	if m.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	cluster, err := m.source.GetClusterByName(name)
	if err != nil {
		return nil, err
	}
	return m.EnsureForCluster(cluster)
}

// ClusterNames 返回需要发现的集群名称
func (m *ClusterClientManager) ClusterNames(ctx context.Context) ([]string, error) {
	if m.source != nil {
		return m.source.ListClusterNames()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Execute 在指定集群上执行一次列表查询，返回 UnstructuredList 的 JSON
func (m *ClusterClientManager) Execute(ctx context.Context, cluster string, q discovery.Query) ([]byte, error) {
	rt, err := m.Runtime(cluster)
	if err != nil {
		return nil, err
	}

	served, err := m.resourceServed(ctx, rt, q.Resource)
	if err != nil {
		return nil, err
	}
	if !served {
		return nil, apierrors.NewNotFound(q.Resource.GroupResource(), "")
	}

	list, err := rt.client.dynamic.Resource(q.Resource).Namespace(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: q.LabelSelector,
	})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("序列化 %s 列表失败: %w", q.Name, err)
	}
	return data, nil
}

// resourceServed 探测资源是否在集群中注册，结果按 servedCacheTTL 缓存
//
// 核心资源与无 discovery 客户端时视为已注册。discovery 请求不接受 ctx，
// 因此在单独的 goroutine 中执行，ctx 结束时立即返回 ctx 的错误；
// 探测失败同样缓存，TTL 内直接执行列表查询。
func (m *ClusterClientManager) resourceServed(ctx context.Context, rt *ClusterRuntime, gvr schema.GroupVersionResource) (bool, error) {
	if gvr.Group == "" || rt.client.clientset == nil {
		return true, nil
	}

	now := m.now()
	rt.mu.Lock()
	if e, ok := rt.served[gvr]; ok && now.Sub(e.at) < servedCacheTTL {
		rt.mu.Unlock()
		return e.served || !e.known, nil
	}
	rt.mu.Unlock()

	result := make(chan servedEntry, 1)
	go func() {
		entry := m.probeServed(rt, gvr)
		rt.mu.Lock()
		rt.served[gvr] = entry
		rt.mu.Unlock()
		result <- entry
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case e := <-result:
		return e.served || !e.known, nil
	}
}

func (m *ClusterClientManager) probeServed(rt *ClusterRuntime, gvr schema.GroupVersionResource) servedEntry {
	entry := servedEntry{known: true, at: m.now()}
	list, err := rt.client.clientset.Discovery().ServerResourcesForGroupVersion(gvr.GroupVersion().String())
	switch {
	case apierrors.IsNotFound(err):
	case err != nil:
		logger.Debug("资源注册探测失败", "cluster", rt.name, "resource", gvr.String(), "error", err)
		entry.known = false
		return entry
	default:
		for _, r := range list.APIResources {
			if r.Name == gvr.Resource {
				entry.served = true
				break
			}
		}
	}
	if !entry.served {
		logger.Debug("集群未注册资源", "cluster", rt.name, "resource", gvr.String())
	}
	return entry
}

// TestCluster 测试指定集群的连通性
func (m *ClusterClientManager) TestCluster(ctx context.Context, name string) (*ClusterInfo, error) {
	rt, err := m.Runtime(name)
	if err != nil {
		return nil, err
	}
	return rt.client.TestConnection(ctx)
}

// StopForCluster 移除指定集群的客户端（删除集群时调用）
func (m *ClusterClientManager) StopForCluster(name string) {
	m.mu.Lock()
	_, ok := m.clusters[name]
	delete(m.clusters, name)
	m.mu.Unlock()

	if ok {
		logger.Info("集群客户端已移除", "cluster", name)
	}
}

// Stop 移除所有集群客户端（应用退出时调用）
func (m *ClusterClientManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.clusters {
		delete(m.clusters, name)
	}
}
