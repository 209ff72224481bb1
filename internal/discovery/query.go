package discovery

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Query 一次远程列表查询
type Query struct {
	// Name 子查询名称，用于日志与指标
	Name string
	// Resource 查询的资源
	Resource schema.GroupVersionResource
	// LabelSelector 标签选择器，空表示全部
	LabelSelector string
}

// Executor 远程查询执行器，返回 JSON 列表（{"items":[...]}）
type Executor interface {
	Execute(ctx context.Context, cluster string, q Query) ([]byte, error)
}

// ExecutorFunc 函数形式的 Executor
type ExecutorFunc func(ctx context.Context, cluster string, q Query) ([]byte, error)

// Execute 实现 Executor
func (f ExecutorFunc) Execute(ctx context.Context, cluster string, q Query) ([]byte, error) {
	return f(ctx, cluster, q)
}

// 子查询名称
const (
	QueryPods     = "pods"
	QueryPools    = "inferencepools"
	QueryServices = "services"
	QueryGateways = "gateways"
	QueryVariants = "variantautoscalings"
	QueryHPAs     = "horizontalpodautoscalers"
	QueryVPAs     = "verticalpodautoscalers"
)

// DefaultPodSelector 推理服务 Pod 的默认标签选择器
const DefaultPodSelector = "llm-d.ai/inferenceServing=true"

var (
	PodsGVR     = schema.GroupVersionResource{Version: "v1", Resource: "pods"}
	ServicesGVR = schema.GroupVersionResource{Version: "v1", Resource: "services"}
	PoolsGVR    = schema.GroupVersionResource{Group: "inference.networking.x-k8s.io", Version: "v1alpha2", Resource: "inferencepools"}
	GatewaysGVR = schema.GroupVersionResource{Group: "gateway.networking.k8s.io", Version: "v1", Resource: "gateways"}
	VariantsGVR = schema.GroupVersionResource{Group: "llmd.ai", Version: "v1alpha1", Resource: "variantautoscalings"}
	HPAsGVR     = schema.GroupVersionResource{Group: "autoscaling", Version: "v2", Resource: "horizontalpodautoscalers"}
	VPAsGVR     = schema.GroupVersionResource{Group: "autoscaling.k8s.io", Version: "v1", Resource: "verticalpodautoscalers"}
)

// DefaultQueries 每个集群需要执行的全部子查询
func DefaultQueries(podSelector string) []Query {
	if podSelector == "" {
		podSelector = DefaultPodSelector
	}
	return []Query{
		{Name: QueryPods, Resource: PodsGVR, LabelSelector: podSelector},
		{Name: QueryPools, Resource: PoolsGVR},
		{Name: QueryServices, Resource: ServicesGVR},
		{Name: QueryGateways, Resource: GatewaysGVR},
		{Name: QueryVariants, Resource: VariantsGVR},
		{Name: QueryHPAs, Resource: HPAsGVR},
		{Name: QueryVPAs, Resource: VPAsGVR},
	}
}
