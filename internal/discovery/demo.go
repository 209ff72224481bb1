package discovery

import (
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

func int32Ptr(v int32) *int32 {
	return &v
}

// DemoStacks 无真实数据时展示的演示推理栈
func DemoStacks() []models.Stack {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	disagg := models.Stack{
		Namespace: "llm-d-demo",
		Cluster:   "demo-cluster",
		PoolName:  "llama-3-70b-pool",
		ModelName: "meta-llama/Llama-3.1-70B-Instruct",
		Components: models.StackComponents{
			Prefill: []models.StackComponent{
				models.NewStackComponent("llama-70b-prefill", "llm-d-demo", "demo-cluster", models.RolePrefill, 2, 2),
			},
			Decode: []models.StackComponent{
				models.NewStackComponent("llama-70b-decode", "llm-d-demo", "demo-cluster", models.RoleDecode, 4, 4),
			},
			Unified: []models.StackComponent{},
		},
		Autoscaler: &models.AutoscalerBinding{
			Kind:            models.AutoscalerWeightedVariant,
			Name:            "llama-70b-decode",
			Namespace:       "llm-d-demo",
			MinReplicas:     int32Ptr(1),
			MaxReplicas:     int32Ptr(8),
			CurrentReplicas: int32Ptr(4),
			DesiredReplicas: int32Ptr(4),
		},
		DiscoveredAt: now,
	}
	epp := models.NewStackComponent("llama-70b-epp", "llm-d-demo", "demo-cluster", models.RoleEndpointPicker, 1, 1)
	gw := models.NewStackComponent("inference-gateway", "llm-d-demo", "demo-cluster", models.RoleGateway, 1, 1)
	disagg.Components.EndpointPicker = &epp
	disagg.Components.Gateway = &gw

	unified := models.Stack{
		Namespace: "qwen-serving",
		Cluster:   "demo-cluster",
		ModelName: "Qwen/Qwen2.5-7B-Instruct",
		Components: models.StackComponents{
			Prefill: []models.StackComponent{},
			Decode:  []models.StackComponent{},
			Unified: []models.StackComponent{
				models.NewStackComponent("qwen-7b", "qwen-serving", "demo-cluster", models.RoleUnified, 3, 2),
			},
		},
		Autoscaler: &models.AutoscalerBinding{
			Kind:            models.AutoscalerHorizontalPod,
			Name:            "qwen-7b",
			Namespace:       "qwen-serving",
			MinReplicas:     int32Ptr(2),
			MaxReplicas:     int32Ptr(6),
			CurrentReplicas: int32Ptr(3),
			DesiredReplicas: int32Ptr(3),
		},
		DiscoveredAt: now,
	}

	stacks := []models.Stack{disagg, unified}
	for i := range stacks {
		stacks[i].Finalize()
	}
	SortStacks(stacks)
	return stacks
}
