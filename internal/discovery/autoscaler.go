package discovery

import (
	"sort"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

// Resolver 针对一种扩缩容机制查找命名空间的绑定，未命中返回 nil
//
// targets 为该栈下工作负载名称，用于在同一命名空间多个扩缩容器中优先选中目标匹配的一个。
type Resolver func(namespace string, targets []string, records []AutoscalerRecord) *models.AutoscalerBinding

// DefaultResolvers 按优先级排列：weighted-variant > horizontal-pod > vertical-pod
func DefaultResolvers() []Resolver {
	return []Resolver{
		ResolveWeightedVariant,
		ResolveHorizontalPod,
		ResolveVerticalPod,
	}
}

// ResolveAutoscaler 依次尝试 resolvers，返回第一个命中的绑定
func ResolveAutoscaler(resolvers []Resolver, namespace string, targets []string, records []AutoscalerRecord) *models.AutoscalerBinding {
	for _, resolve := range resolvers {
		if b := resolve(namespace, targets, records); b != nil {
			return b
		}
	}
	return nil
}

// ResolveWeightedVariant VariantAutoscaling 绑定，scaleTargetRef.namespace 指定时以其为准
func ResolveWeightedVariant(namespace string, targets []string, records []AutoscalerRecord) *models.AutoscalerBinding {
	return pick(models.AutoscalerWeightedVariant, targets, records, func(r AutoscalerRecord) bool {
		ns := r.Namespace
		if r.TargetNamespace != "" {
			ns = r.TargetNamespace
		}
		return ns == namespace
	})
}

// ResolveHorizontalPod HPA 绑定
func ResolveHorizontalPod(namespace string, targets []string, records []AutoscalerRecord) *models.AutoscalerBinding {
	return pick(models.AutoscalerHorizontalPod, targets, records, func(r AutoscalerRecord) bool {
		return r.Namespace == namespace
	})
}

// ResolveVerticalPod VPA 绑定
func ResolveVerticalPod(namespace string, targets []string, records []AutoscalerRecord) *models.AutoscalerBinding {
	return pick(models.AutoscalerVerticalPod, targets, records, func(r AutoscalerRecord) bool {
		return r.Namespace == namespace
	})
}

func pick(kind models.AutoscalerKind, targets []string, records []AutoscalerRecord, match func(AutoscalerRecord) bool) *models.AutoscalerBinding {
	var candidates []AutoscalerRecord
	for _, r := range records {
		if r.Kind == kind && match(r) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Namespace != candidates[j].Namespace {
			return candidates[i].Namespace < candidates[j].Namespace
		}
		return candidates[i].Name < candidates[j].Name
	})

	chosen := candidates[0]
	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[t] = struct{}{}
	}
	for _, c := range candidates {
		if _, ok := wanted[c.TargetName]; ok {
			chosen = c
			break
		}
	}

	return &models.AutoscalerBinding{
		Kind:            kind,
		Name:            chosen.Name,
		Namespace:       chosen.Namespace,
		MinReplicas:     copyInt32(chosen.MinReplicas),
		MaxReplicas:     copyInt32(chosen.MaxReplicas),
		CurrentReplicas: copyInt32(chosen.CurrentReplicas),
		DesiredReplicas: copyInt32(chosen.DesiredReplicas),
	}
}

func copyInt32(p *int32) *int32 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
