package models

import "time"

// ComponentRole 推理栈组件角色
type ComponentRole string

const (
	RolePrefill        ComponentRole = "prefill"
	RoleDecode         ComponentRole = "decode"
	RoleUnified        ComponentRole = "unified"
	RoleEndpointPicker ComponentRole = "endpoint-picker"
	RoleGateway        ComponentRole = "gateway"
)

// ComponentStatus 组件状态
type ComponentStatus string

const (
	ComponentRunning ComponentStatus = "running"
	ComponentPending ComponentStatus = "pending"
	ComponentError   ComponentStatus = "error"
	ComponentUnknown ComponentStatus = "unknown"
)

// StackStatus 推理栈整体状态
type StackStatus string

const (
	StackHealthy   StackStatus = "healthy"
	StackDegraded  StackStatus = "degraded"
	StackUnhealthy StackStatus = "unhealthy"
	StackUnknown   StackStatus = "unknown"
)

// AutoscalerKind 自动扩缩容机制
type AutoscalerKind string

const (
	AutoscalerWeightedVariant AutoscalerKind = "weighted-variant"
	AutoscalerHorizontalPod   AutoscalerKind = "horizontal-pod"
	AutoscalerVerticalPod     AutoscalerKind = "vertical-pod"
	AutoscalerNone            AutoscalerKind = "none"
)

// StackComponent 推理栈中的一组同构副本
type StackComponent struct {
	Name              string          `json:"name"`
	Namespace         string          `json:"namespace"`
	Cluster           string          `json:"cluster"`
	Role              ComponentRole   `json:"role"`
	ReplicaCount      int             `json:"replicaCount"`
	ReadyReplicaCount int             `json:"readyReplicaCount"`
	Status            ComponentStatus `json:"status"`
	ModelName         string          `json:"modelName,omitempty"`
}

// ComponentStatusFor 根据副本数推导组件状态
func ComponentStatusFor(replicas, ready int) ComponentStatus {
	switch {
	case replicas <= 0:
		return ComponentUnknown
	case ready >= replicas:
		return ComponentRunning
	case ready == 0:
		return ComponentError
	default:
		return ComponentPending
	}
}

// NewStackComponent 创建组件并修正副本数、推导状态
func NewStackComponent(name, namespace, cluster string, role ComponentRole, replicas, ready int) StackComponent {
	if replicas < 0 {
		replicas = 0
	}
	if ready < 0 {
		ready = 0
	}
	if ready > replicas {
		ready = replicas
	}
	return StackComponent{
		Name:              name,
		Namespace:         namespace,
		Cluster:           cluster,
		Role:              role,
		ReplicaCount:      replicas,
		ReadyReplicaCount: ready,
		Status:            ComponentStatusFor(replicas, ready),
	}
}

// AutoscalerBinding 推理栈绑定的扩缩容器（每个栈至多一个）
type AutoscalerBinding struct {
	Kind            AutoscalerKind `json:"kind"`
	Name            string         `json:"name,omitempty"`
	Namespace       string         `json:"namespace,omitempty"`
	MinReplicas     *int32         `json:"minReplicas,omitempty"`
	MaxReplicas     *int32         `json:"maxReplicas,omitempty"`
	CurrentReplicas *int32         `json:"currentReplicas,omitempty"`
	DesiredReplicas *int32         `json:"desiredReplicas,omitempty"`
}

// StackComponents 按角色分组的组件
type StackComponents struct {
	Prefill        []StackComponent `json:"prefill"`
	Decode         []StackComponent `json:"decode"`
	Unified        []StackComponent `json:"unified"`
	EndpointPicker *StackComponent  `json:"endpointPicker,omitempty"`
	Gateway        *StackComponent  `json:"gateway,omitempty"`
}

// All 返回全部已存在的组件
func (c StackComponents) All() []StackComponent {
	all := make([]StackComponent, 0, len(c.Prefill)+len(c.Decode)+len(c.Unified)+2)
	all = append(all, c.Prefill...)
	all = append(all, c.Decode...)
	all = append(all, c.Unified...)
	if c.EndpointPicker != nil {
		all = append(all, *c.EndpointPicker)
	}
	if c.Gateway != nil {
		all = append(all, *c.Gateway)
	}
	return all
}

// Stack 一个逻辑推理服务部署（集群内的一个命名空间）
type Stack struct {
	ID                string             `json:"id"`
	DisplayName       string             `json:"displayName"`
	Namespace         string             `json:"namespace"`
	Cluster           string             `json:"cluster"`
	PoolName          string             `json:"poolName,omitempty"`
	ModelName         string             `json:"modelName,omitempty"`
	Components        StackComponents    `json:"components"`
	HasDisaggregation bool               `json:"hasDisaggregation"`
	Status            StackStatus        `json:"status"`
	TotalReplicas     int                `json:"totalReplicas"`
	ReadyReplicas     int                `json:"readyReplicas"`
	Autoscaler        *AutoscalerBinding `json:"autoscaler,omitempty"`
	DiscoveredAt      time.Time          `json:"discoveredAt"`
}

// StackID 生成栈唯一标识 namespace@cluster
func StackID(namespace, cluster string) string {
	return namespace + "@" + cluster
}

// Finalize 重新计算派生字段
func (s *Stack) Finalize() {
	s.ID = StackID(s.Namespace, s.Cluster)
	if s.DisplayName == "" {
		if s.PoolName != "" {
			s.DisplayName = s.PoolName
		} else {
			s.DisplayName = s.Namespace
		}
	}
	s.HasDisaggregation = len(s.Components.Prefill) > 0 && len(s.Components.Decode) > 0

	s.TotalReplicas, s.ReadyReplicas = 0, 0
	for _, group := range [][]StackComponent{s.Components.Prefill, s.Components.Decode, s.Components.Unified} {
		for _, c := range group {
			s.TotalReplicas += c.ReplicaCount
			s.ReadyReplicas += c.ReadyReplicaCount
		}
	}
	s.Status = RollupStatus(s.Components.All())
}

// RollupStatus 汇总组件状态：全部运行为 healthy，无一运行为 unhealthy，否则 degraded
func RollupStatus(components []StackComponent) StackStatus {
	if len(components) == 0 {
		return StackUnknown
	}
	running := 0
	for _, c := range components {
		if c.Status == ComponentRunning {
			running++
		}
	}
	switch running {
	case len(components):
		return StackHealthy
	case 0:
		return StackUnhealthy
	default:
		return StackDegraded
	}
}

// Clone 深拷贝，供只读快照使用
func (s Stack) Clone() Stack {
	out := s
	out.Components.Prefill = append([]StackComponent(nil), s.Components.Prefill...)
	out.Components.Decode = append([]StackComponent(nil), s.Components.Decode...)
	out.Components.Unified = append([]StackComponent(nil), s.Components.Unified...)
	if s.Components.EndpointPicker != nil {
		epp := *s.Components.EndpointPicker
		out.Components.EndpointPicker = &epp
	}
	if s.Components.Gateway != nil {
		gw := *s.Components.Gateway
		out.Components.Gateway = &gw
	}
	if s.Autoscaler != nil {
		as := *s.Autoscaler
		out.Autoscaler = &as
	}
	return out
}

// ServerSummary llm-d 推理服务实例摘要（卡片与流式接口使用）
type ServerSummary struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Cluster   string        `json:"cluster"`
	Role      ComponentRole `json:"role"`
	ModelName string        `json:"modelName,omitempty"`
	Ready     bool          `json:"ready"`
	Phase     string        `json:"phase"`
}

// AutoscalerSummary 扩缩容器摘要（卡片使用）
type AutoscalerSummary struct {
	Cluster string            `json:"cluster"`
	Target  string            `json:"target"`
	Binding AutoscalerBinding `json:"binding"`
}
