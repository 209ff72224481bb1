package services

import (
	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

// DemoClusters 无集群数据时展示的演示集群
func DemoClusters() []models.Cluster {
	return []models.Cluster{
		{ID: 1, Name: "demo-cluster", APIServer: "https://demo.example.com:6443", Version: "v1.30.2", Status: models.ClusterStatusHealthy, Labels: "{}"},
	}
}

// DemoServers 由演示推理栈展开的推理服务实例
func DemoServers() []models.ServerSummary {
	var servers []models.ServerSummary
	for _, s := range discovery.DemoStacks() {
		for _, c := range s.Components.All() {
			if c.Role == models.RoleEndpointPicker || c.Role == models.RoleGateway {
				continue
			}
			for i := 0; i < c.ReplicaCount; i++ {
				phase := "Running"
				if i >= c.ReadyReplicaCount {
					phase = "Pending"
				}
				servers = append(servers, models.ServerSummary{
					Name:      c.Name + "-" + string(rune('a'+i)),
					Namespace: c.Namespace,
					Cluster:   c.Cluster,
					Role:      c.Role,
					ModelName: s.ModelName,
					Ready:     i < c.ReadyReplicaCount,
					Phase:     phase,
				})
			}
		}
	}
	return servers
}

// DemoAutoscalers 演示推理栈绑定的扩缩容器
func DemoAutoscalers() []models.AutoscalerSummary {
	var out []models.AutoscalerSummary
	for _, s := range discovery.DemoStacks() {
		if s.Autoscaler == nil {
			continue
		}
		out = append(out, models.AutoscalerSummary{
			Cluster: s.Cluster,
			Target:  s.Namespace + "/" + s.Autoscaler.Name,
			Binding: *s.Autoscaler,
		})
	}
	return out
}
