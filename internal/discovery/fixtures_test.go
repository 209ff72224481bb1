package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var errConnRefused = errors.New("dial tcp 10.0.0.8:6443: connect: connection refused")

// fakeCluster 单个集群的预设响应
type fakeCluster struct {
	responses map[string]string
	errs      map[string]error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{responses: map[string]string{}, errs: map[string]error{}}
}

func (c *fakeCluster) with(query string, body string) *fakeCluster {
	c.responses[query] = body
	return c
}

func (c *fakeCluster) fail(query string, err error) *fakeCluster {
	c.errs[query] = err
	return c
}

// fakeExecutor 按集群与查询名返回预设响应
type fakeExecutor struct {
	mu       sync.Mutex
	clusters map[string]*fakeCluster
	calls    map[string]int
	// gate 非空时 pods 查询在返回前等待
	gate    chan struct{}
	entered chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{clusters: map[string]*fakeCluster{}, calls: map[string]int{}}
}

func (f *fakeExecutor) set(cluster string, c *fakeCluster) {
	f.mu.Lock()
	f.clusters[cluster] = c
	f.mu.Unlock()
}

func (f *fakeExecutor) callCount(cluster string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cluster]
}

func (f *fakeExecutor) Execute(ctx context.Context, cluster string, q Query) ([]byte, error) {
	f.mu.Lock()
	f.calls[cluster]++
	c := f.clusters[cluster]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if q.Name == QueryPods && gate != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if c == nil {
		return nil, errConnRefused
	}
	if err := c.errs[q.Name]; err != nil {
		return nil, err
	}
	if body, ok := c.responses[q.Name]; ok {
		return []byte(body), nil
	}
	return []byte(`{"items":[]}`), nil
}

func listJSON(items ...interface{}) string {
	if items == nil {
		items = []interface{}{}
	}
	b, err := json.Marshal(map[string]interface{}{"apiVersion": "v1", "kind": "List", "items": items})
	if err != nil {
		panic(err)
	}
	return string(b)
}

type podOpt func(*corev1.Pod)

func withLabel(k, v string) podOpt {
	return func(p *corev1.Pod) {
		if p.Labels == nil {
			p.Labels = map[string]string{}
		}
		p.Labels[k] = v
	}
}

func notReady() podOpt {
	return func(p *corev1.Pod) {
		p.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionFalse}}
	}
}

// deploymentPod 由 Deployment 创建的 Pod，名称形如 <deploy>-<hash>-<suffix>
func deploymentPod(ns, deploy, hash, suffix string, opts ...podOpt) corev1.Pod {
	isController := true
	p := corev1.Pod{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{
			Name:         deploy + "-" + hash + "-" + suffix,
			GenerateName: deploy + "-" + hash + "-",
			Namespace:    ns,
			Labels: map[string]string{
				"llm-d.ai/inferenceServing": "true",
				"pod-template-hash":         hash,
			},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: "apps/v1",
				Kind:       "ReplicaSet",
				Name:       deploy + "-" + hash,
				Controller: &isController,
			}},
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
	for _, o := range opts {
		o(&p)
	}
	return p
}

func service(ns, name string, labels map[string]string) corev1.Service {
	return corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labels},
		Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeClusterIP},
	}
}

func pool(ns, name, epp string) map[string]interface{} {
	return map[string]interface{}{
		"apiVersion": "inference.networking.x-k8s.io/v1alpha2",
		"kind":       "InferencePool",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": ns,
			"labels":    map[string]interface{}{"llm-d.ai/model": "meta-llama/Llama-3.1-8B"},
		},
		"spec": map[string]interface{}{
			"selector":         map[string]interface{}{"llm-d.ai/inferenceServing": "true"},
			"targetPortNumber": 8000,
			"extensionRef":     map[string]interface{}{"name": epp},
		},
	}
}

func gateway(ns, name string, programmed bool) map[string]interface{} {
	status := "False"
	if programmed {
		status = "True"
	}
	return map[string]interface{}{
		"apiVersion": "gateway.networking.k8s.io/v1",
		"kind":       "Gateway",
		"metadata":   map[string]interface{}{"name": name, "namespace": ns},
		"spec":       map[string]interface{}{"gatewayClassName": "kgateway"},
		"status": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"type": "Programmed", "status": status},
			},
		},
	}
}

func variantAutoscaling(ns, name, targetNS, target string, current, desired int) map[string]interface{} {
	ref := map[string]interface{}{"kind": "Deployment", "name": target}
	if targetNS != "" {
		ref["namespace"] = targetNS
	}
	return map[string]interface{}{
		"apiVersion": "llmd.ai/v1alpha1",
		"kind":       "VariantAutoscaling",
		"metadata":   map[string]interface{}{"name": name, "namespace": ns},
		"spec": map[string]interface{}{
			"scaleTargetRef": ref,
			"modelID":        "meta-llama/Llama-3.1-8B",
			"minReplicas":    1,
			"maxReplicas":    10,
		},
		"status": map[string]interface{}{
			"currentAlloc":          map[string]interface{}{"numReplicas": current},
			"desiredOptimizedAlloc": map[string]interface{}{"numReplicas": desired},
		},
	}
}

func hpa(ns, name, target string, minReplicas, maxReplicas, current int32) autoscalingv2.HorizontalPodAutoscaler {
	return autoscalingv2.HorizontalPodAutoscaler{
		TypeMeta:   metav1.TypeMeta{APIVersion: "autoscaling/v2", Kind: "HorizontalPodAutoscaler"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{Kind: "Deployment", Name: target, APIVersion: "apps/v1"},
			MinReplicas:    &minReplicas,
			MaxReplicas:    maxReplicas,
		},
		Status: autoscalingv2.HorizontalPodAutoscalerStatus{CurrentReplicas: current, DesiredReplicas: current},
	}
}

func vpa(ns, name, target string) map[string]interface{} {
	return map[string]interface{}{
		"apiVersion": "autoscaling.k8s.io/v1",
		"kind":       "VerticalPodAutoscaler",
		"metadata":   map[string]interface{}{"name": name, "namespace": ns},
		"spec": map[string]interface{}{
			"targetRef":    map[string]interface{}{"apiVersion": "apps/v1", "kind": "Deployment", "name": target},
			"updatePolicy": map[string]interface{}{"updateMode": "Auto"},
		},
	}
}

// disaggCluster 一个命名空间含 prefill/decode、EPP 与网关的集群
func disaggCluster(ns string) *fakeCluster {
	return newFakeCluster().
		with(QueryPods, listJSON(
			deploymentPod(ns, "llama-prefill", "5d9f8", "a1"),
			deploymentPod(ns, "llama-decode", "7c4b2", "b1"),
			deploymentPod(ns, "llama-decode", "7c4b2", "b2"),
		)).
		with(QueryPools, listJSON(pool(ns, "llama-pool", "llama-epp"))).
		with(QueryServices, listJSON(service(ns, "llama-epp", nil))).
		with(QueryGateways, listJSON(gateway(ns, "inference-gateway", true)))
}

// unifiedCluster 每个命名空间一个 unified 部署
func unifiedCluster(namespaces ...string) *fakeCluster {
	var pods []interface{}
	for _, ns := range namespaces {
		pods = append(pods, deploymentPod(ns, "vllm", "9a8b7", "x1"))
	}
	return newFakeCluster().with(QueryPods, listJSON(pods...))
}
