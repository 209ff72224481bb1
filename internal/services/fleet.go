package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// fleetConcurrency 跨集群查询的并发上限
const fleetConcurrency = 4

// Fleet 跨集群查询推理服务实例与扩缩容器
type Fleet struct {
	exec        discovery.Executor
	lister      discovery.ClusterLister
	podSelector string
	timeout     time.Duration
}

// NewFleet 创建跨集群查询器
func NewFleet(exec discovery.Executor, lister discovery.ClusterLister, podSelector string, timeout time.Duration) *Fleet {
	if podSelector == "" {
		podSelector = discovery.DefaultPodSelector
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fleet{exec: exec, lister: lister, podSelector: podSelector, timeout: timeout}
}

// ClusterNames 返回集群名称
func (f *Fleet) ClusterNames(ctx context.Context) ([]string, error) {
	return f.lister(ctx)
}

func (f *Fleet) execute(ctx context.Context, cluster string, q discovery.Query) ([]byte, error) {
	qctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.exec.Execute(qctx, cluster, q)
}

// Servers 查询单个集群的推理服务 Pod
func (f *Fleet) Servers(ctx context.Context, cluster string) ([]models.ServerSummary, error) {
	data, err := f.execute(ctx, cluster, discovery.Query{
		Name:          discovery.QueryPods,
		Resource:      discovery.PodsGVR,
		LabelSelector: f.podSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("集群 %s 查询推理服务失败: %w", cluster, err)
	}
	pods, err := discovery.ParsePods(data)
	if err != nil {
		return nil, err
	}

	servers := make([]models.ServerSummary, 0, len(pods))
	for _, p := range pods {
		role := discovery.ClassifyRole(p)
		if role == models.RoleEndpointPicker {
			continue
		}
		servers = append(servers, models.ServerSummary{
			Name:      p.Name,
			Namespace: p.Namespace,
			Cluster:   cluster,
			Role:      role,
			ModelName: p.Labels[discovery.LabelModel],
			Ready:     p.Ready,
			Phase:     string(p.Phase),
		})
	}
	return servers, nil
}

// Autoscalers 查询单个集群的扩缩容器，未注册的 CRD 视为空
func (f *Fleet) Autoscalers(ctx context.Context, cluster string) ([]models.AutoscalerSummary, error) {
	var out []models.AutoscalerSummary
	var errs []error
	for _, q := range []struct {
		query discovery.Query
		parse func([]byte) ([]discovery.AutoscalerRecord, error)
	}{
		{discovery.Query{Name: discovery.QueryVariants, Resource: discovery.VariantsGVR}, discovery.ParseVariantAutoscalings},
		{discovery.Query{Name: discovery.QueryHPAs, Resource: discovery.HPAsGVR}, discovery.ParseHPAs},
		{discovery.Query{Name: discovery.QueryVPAs, Resource: discovery.VPAsGVR}, discovery.ParseVPAs},
	} {
		data, err := f.execute(ctx, cluster, q.query)
		if err != nil {
			if discovery.ClassifyError(err) != discovery.KindNotServed {
				errs = append(errs, err)
			}
			continue
		}
		records, err := q.parse(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range records {
			ns := r.Namespace
			if r.TargetNamespace != "" {
				ns = r.TargetNamespace
			}
			out = append(out, models.AutoscalerSummary{
				Cluster: cluster,
				Target:  ns + "/" + r.TargetName,
				Binding: models.AutoscalerBinding{
					Kind:            r.Kind,
					Name:            r.Name,
					Namespace:       r.Namespace,
					MinReplicas:     r.MinReplicas,
					MaxReplicas:     r.MaxReplicas,
					CurrentReplicas: r.CurrentReplicas,
					DesiredReplicas: r.DesiredReplicas,
				},
			})
		}
	}
	if len(out) == 0 && len(errs) == 3 {
		return nil, fmt.Errorf("集群 %s 查询扩缩容器失败: %w", cluster, errors.Join(errs...))
	}
	return out, nil
}

// AllServers 汇总全部集群的推理服务，仅当所有集群都失败时返回错误
func (f *Fleet) AllServers(ctx context.Context) ([]models.ServerSummary, error) {
	return collectAll(ctx, f, f.Servers)
}

// AllAutoscalers 汇总全部集群的扩缩容器，仅当所有集群都失败时返回错误
func (f *Fleet) AllAutoscalers(ctx context.Context) ([]models.AutoscalerSummary, error) {
	return collectAll(ctx, f, f.Autoscalers)
}

func collectAll[T any](ctx context.Context, f *Fleet, query func(context.Context, string) ([]T, error)) ([]T, error) {
	clusters, err := f.lister(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取集群列表失败: %w", err)
	}

	results := make([][]T, len(clusters))
	errs := make([]error, len(clusters))
	var g errgroup.Group
	g.SetLimit(fleetConcurrency)
	for i, cluster := range clusters {
		g.Go(func() error {
			results[i], errs[i] = query(ctx, cluster)
			return nil
		})
	}
	_ = g.Wait()

	var out []T
	failed := 0
	for i := range clusters {
		if errs[i] != nil {
			failed++
			logger.Warn("集群查询失败", "cluster", clusters[i], "error", errs[i])
			continue
		}
		out = append(out, results[i]...)
	}
	if len(clusters) > 0 && failed == len(clusters) {
		return nil, fmt.Errorf("所有集群均无法查询: %w", errors.Join(errs...))
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
