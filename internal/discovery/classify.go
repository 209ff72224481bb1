package discovery

import (
	"sort"
	"strings"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

// llm-d 约定的标签
const (
	LabelRole      = "llm-d.ai/role"
	LabelModel     = "llm-d.ai/model"
	LabelComponent = "app.kubernetes.io/component"

	labelPodTemplateHash        = "pod-template-hash"
	labelControllerRevisionHash = "controller-revision-hash"
)

// ClassifyRole 判定 Pod 角色：角色标签优先，其次名称关键字，默认 unified
func ClassifyRole(pod PodRecord) models.ComponentRole {
	switch strings.ToLower(pod.Labels[LabelRole]) {
	case "prefill":
		return models.RolePrefill
	case "decode":
		return models.RoleDecode
	case "both", "unified":
		return models.RoleUnified
	case "epp", "endpoint-picker":
		return models.RoleEndpointPicker
	}

	name := strings.ToLower(pod.Name)
	switch {
	case strings.Contains(name, "prefill"):
		return models.RolePrefill
	case strings.Contains(name, "decode"):
		return models.RoleDecode
	}
	return models.RoleUnified
}

// generationOf 返回 Pod 的部署版本标记
func generationOf(pod PodRecord) string {
	if h := pod.Labels[labelPodTemplateHash]; h != "" {
		return h
	}
	return pod.Labels[labelControllerRevisionHash]
}

// workloadOf 推导 Pod 所属工作负载名称
func workloadOf(pod PodRecord) string {
	hash := pod.Labels[labelPodTemplateHash]
	if pod.OwnerName != "" {
		if pod.OwnerKind == "ReplicaSet" && hash != "" && strings.HasSuffix(pod.OwnerName, "-"+hash) {
			return strings.TrimSuffix(pod.OwnerName, "-"+hash)
		}
		return pod.OwnerName
	}
	if pod.GenerateName != "" {
		name := strings.TrimSuffix(pod.GenerateName, "-")
		if hash != "" {
			name = strings.TrimSuffix(name, "-"+hash)
		}
		return name
	}
	return pod.Name
}

// roleGroups 一个命名空间内按角色分组的组件
type roleGroups struct {
	Prefill        []models.StackComponent
	Decode         []models.StackComponent
	Unified        []models.StackComponent
	EndpointPicker *models.StackComponent
	ModelName      string
}

func (g *roleGroups) servingCount() int {
	return len(g.Prefill) + len(g.Decode) + len(g.Unified)
}

type groupKey struct {
	namespace  string
	role       models.ComponentRole
	workload   string
	generation string
}

type podGroup struct {
	total int
	ready int
	model string
}

// groupPods 按命名空间、角色、工作负载与版本标记把 Pod 聚合为组件
func groupPods(cluster string, pods []PodRecord) map[string]*roleGroups {
	groups := make(map[groupKey]*podGroup)
	generations := make(map[string]map[string]struct{})

	for _, pod := range pods {
		key := groupKey{
			namespace:  pod.Namespace,
			role:       ClassifyRole(pod),
			workload:   workloadOf(pod),
			generation: generationOf(pod),
		}
		g, ok := groups[key]
		if !ok {
			g = &podGroup{}
			groups[key] = g
		}
		g.total++
		if pod.Ready {
			g.ready++
		}
		if g.model == "" {
			g.model = pod.Labels[LabelModel]
		}

		wk := pod.Namespace + "/" + key.workload
		if generations[wk] == nil {
			generations[wk] = make(map[string]struct{})
		}
		generations[wk][key.generation] = struct{}{}
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].workload != keys[j].workload {
			return keys[i].workload < keys[j].workload
		}
		return keys[i].generation < keys[j].generation
	})

	out := make(map[string]*roleGroups)
	for _, k := range keys {
		g := groups[k]
		name := k.workload
		// 滚动更新期间同一工作负载有多个版本
		if len(generations[k.namespace+"/"+k.workload]) > 1 && k.generation != "" {
			name = k.workload + "-" + k.generation
		}

		rg, ok := out[k.namespace]
		if !ok {
			rg = &roleGroups{}
			out[k.namespace] = rg
		}
		c := models.NewStackComponent(name, k.namespace, cluster, k.role, g.total, g.ready)
		c.ModelName = g.model
		if rg.ModelName == "" && g.model != "" {
			rg.ModelName = g.model
		}

		switch k.role {
		case models.RolePrefill:
			rg.Prefill = append(rg.Prefill, c)
		case models.RoleDecode:
			rg.Decode = append(rg.Decode, c)
		case models.RoleEndpointPicker:
			if rg.EndpointPicker == nil {
				rg.EndpointPicker = &c
			} else {
				merged := models.NewStackComponent(rg.EndpointPicker.Name, k.namespace, cluster, k.role,
					rg.EndpointPicker.ReplicaCount+g.total, rg.EndpointPicker.ReadyReplicaCount+g.ready)
				rg.EndpointPicker = &merged
			}
		default:
			rg.Unified = append(rg.Unified, c)
		}
	}
	return out
}

// isEndpointPickerService 判断 Service 是否为 endpoint picker
func isEndpointPickerService(svc ServiceRecord) bool {
	if strings.Contains(strings.ToLower(svc.Name), "epp") {
		return true
	}
	switch strings.ToLower(svc.Labels[LabelComponent]) {
	case "endpoint-picker", "epp", "inference-scheduler":
		return true
	}
	switch strings.ToLower(svc.Labels[LabelRole]) {
	case "endpoint-picker", "epp":
		return true
	}
	return false
}

// isGatewayService 判断 Service 是否为网关入口
func isGatewayService(svc ServiceRecord) bool {
	return strings.Contains(strings.ToLower(svc.Name), "gateway")
}
