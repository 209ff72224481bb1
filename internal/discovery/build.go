package discovery

import (
	"sort"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

// ClusterData 单个集群解析后的查询结果
type ClusterData struct {
	Pods        []PodRecord
	Pools       []PoolRecord
	Services    []ServiceRecord
	Gateways    []GatewayRecord
	Autoscalers []AutoscalerRecord
}

// BuildStacks 按命名空间构建推理栈
//
// 有服务 Pod 组或 InferencePool 的命名空间各产生一个栈。
func BuildStacks(cluster string, data ClusterData, resolvers []Resolver, now time.Time) []models.Stack {
	groups := groupPods(cluster, data.Pods)

	pools := make(map[string][]PoolRecord)
	for _, p := range data.Pools {
		pools[p.Namespace] = append(pools[p.Namespace], p)
	}
	for ns := range pools {
		sort.Slice(pools[ns], func(i, j int) bool { return pools[ns][i].Name < pools[ns][j].Name })
	}

	services := make(map[string][]ServiceRecord)
	for _, s := range data.Services {
		services[s.Namespace] = append(services[s.Namespace], s)
	}
	gateways := make(map[string][]GatewayRecord)
	for _, g := range data.Gateways {
		gateways[g.Namespace] = append(gateways[g.Namespace], g)
	}

	namespaces := make(map[string]struct{})
	for ns, g := range groups {
		if g.servingCount() > 0 {
			namespaces[ns] = struct{}{}
		}
	}
	for ns := range pools {
		namespaces[ns] = struct{}{}
	}

	stacks := make([]models.Stack, 0, len(namespaces))
	for ns := range namespaces {
		g := groups[ns]
		if g == nil {
			g = &roleGroups{}
		}

		stack := models.Stack{
			Namespace:    ns,
			Cluster:      cluster,
			DiscoveredAt: now,
			Components: models.StackComponents{
				Prefill: nonNil(g.Prefill),
				Decode:  nonNil(g.Decode),
				Unified: nonNil(g.Unified),
			},
		}

		var pool *PoolRecord
		if ps := pools[ns]; len(ps) > 0 {
			pool = &ps[0]
			stack.PoolName = pool.Name
			stack.ModelName = pool.Labels[LabelModel]
		}
		if stack.ModelName == "" {
			stack.ModelName = g.ModelName
		}

		stack.Components.EndpointPicker = endpointPickerFor(cluster, ns, g, pool, services[ns])
		stack.Components.Gateway = gatewayFor(cluster, ns, gateways[ns], services[ns])

		stack.Autoscaler = ResolveAutoscaler(resolvers, ns, workloadNames(g), data.Autoscalers)
		stack.Finalize()
		stacks = append(stacks, stack)
	}

	sort.Slice(stacks, func(i, j int) bool { return stacks[i].ID < stacks[j].ID })
	return stacks
}

func nonNil(c []models.StackComponent) []models.StackComponent {
	if c == nil {
		return []models.StackComponent{}
	}
	return c
}

// endpointPickerFor 依次使用 EPP Pod、InferencePool 的 extensionRef、命名或标签匹配的 Service
func endpointPickerFor(cluster, ns string, g *roleGroups, pool *PoolRecord, services []ServiceRecord) *models.StackComponent {
	if g.EndpointPicker != nil {
		epp := *g.EndpointPicker
		return &epp
	}

	name := ""
	if pool != nil && pool.EndpointPickerRef != "" {
		for _, svc := range services {
			if svc.Name == pool.EndpointPickerRef {
				name = svc.Name
				break
			}
		}
	}
	if name == "" {
		for _, svc := range services {
			if isEndpointPickerService(svc) {
				name = svc.Name
				break
			}
		}
	}
	if name == "" {
		return nil
	}
	c := models.NewStackComponent(name, ns, cluster, models.RoleEndpointPicker, 1, 1)
	return &c
}

// gatewayFor Gateway 资源优先，其次名称包含 gateway 的 Service
func gatewayFor(cluster, ns string, gateways []GatewayRecord, services []ServiceRecord) *models.StackComponent {
	if len(gateways) > 0 {
		sort.Slice(gateways, func(i, j int) bool { return gateways[i].Name < gateways[j].Name })
		gw := gateways[0]
		ready := 0
		if gw.Ready {
			ready = 1
		}
		c := models.NewStackComponent(gw.Name, ns, cluster, models.RoleGateway, 1, ready)
		return &c
	}
	for _, svc := range services {
		if isGatewayService(svc) {
			c := models.NewStackComponent(svc.Name, ns, cluster, models.RoleGateway, 1, 1)
			return &c
		}
	}
	return nil
}

func workloadNames(g *roleGroups) []string {
	var names []string
	for _, group := range [][]models.StackComponent{g.Prefill, g.Decode, g.Unified} {
		for _, c := range group {
			names = append(names, c.Name)
		}
	}
	return names
}

// SortStacks 健康的栈在前，其次按显示名、ID 排序
func SortStacks(stacks []models.Stack) {
	sort.SliceStable(stacks, func(i, j int) bool {
		hi := stacks[i].Status == models.StackHealthy
		hj := stacks[j].Status == models.StackHealthy
		if hi != hj {
			return hi
		}
		if stacks[i].DisplayName != stacks[j].DisplayName {
			return stacks[i].DisplayName < stacks[j].DisplayName
		}
		return stacks[i].ID < stacks[j].ID
	})
}
