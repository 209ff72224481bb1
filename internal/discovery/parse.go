package discovery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceKind 资源记录类型
type ResourceKind string

const (
	ResourcePod        ResourceKind = "pod"
	ResourcePool       ResourceKind = "inference-pool"
	ResourceService    ResourceKind = "service"
	ResourceGateway    ResourceKind = "gateway"
	ResourceAutoscaler ResourceKind = "autoscaler"
)

// Resource 解析后的资源记录
type Resource interface {
	ResourceKind() ResourceKind
}

// ParseError 响应无法解析
type ParseError struct {
	Resource string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析 %s 响应失败: %v", e.Resource, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PodRecord 推理服务 Pod
type PodRecord struct {
	Name         string
	Namespace    string
	GenerateName string
	Labels       map[string]string
	OwnerKind    string
	OwnerName    string
	Phase        corev1.PodPhase
	Ready        bool
}

// PoolRecord InferencePool
type PoolRecord struct {
	Name              string
	Namespace         string
	Labels            map[string]string
	Selector          map[string]string
	EndpointPickerRef string
}

// ServiceRecord Service
type ServiceRecord struct {
	Name      string
	Namespace string
	Labels    map[string]string
	Type      corev1.ServiceType
}

// GatewayRecord Gateway API 网关
type GatewayRecord struct {
	Name      string
	Namespace string
	ClassName string
	Ready     bool
}

// AutoscalerRecord 三类扩缩容器的统一记录
type AutoscalerRecord struct {
	Kind            models.AutoscalerKind
	Name            string
	Namespace       string
	TargetKind      string
	TargetName      string
	TargetNamespace string
	ModelName       string
	MinReplicas     *int32
	MaxReplicas     *int32
	CurrentReplicas *int32
	DesiredReplicas *int32
}

func (PodRecord) ResourceKind() ResourceKind        { return ResourcePod }
func (PoolRecord) ResourceKind() ResourceKind       { return ResourcePool }
func (ServiceRecord) ResourceKind() ResourceKind    { return ResourceService }
func (GatewayRecord) ResourceKind() ResourceKind    { return ResourceGateway }
func (AutoscalerRecord) ResourceKind() ResourceKind { return ResourceAutoscaler }

var errMissingName = errors.New("缺少 metadata.name")

// parseItems 拆分列表响应并逐条转换，单条失败只丢弃该条
func parseItems[R any](resource string, data []byte, conv func(json.RawMessage) (R, error)) ([]R, error) {
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &ParseError{Resource: resource, Err: err}
	}

	out := make([]R, 0, len(list.Items))
	for i, raw := range list.Items {
		r, err := conv(raw)
		if err != nil {
			logger.Debug("丢弃无法解析的资源", "resource", resource, "index", i, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// decodeUnstructured 将单条 CRD 资源解码为 Unstructured
func decodeUnstructured(raw json.RawMessage) (*unstructured.Unstructured, error) {
	obj := map[string]interface{}{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	u := &unstructured.Unstructured{Object: obj}
	if u.GetName() == "" {
		return nil, errMissingName
	}
	return u, nil
}

// ParsePods 解析 Pod 列表
func ParsePods(data []byte) ([]PodRecord, error) {
	return parseItems(QueryPods, data, func(raw json.RawMessage) (PodRecord, error) {
		var pod corev1.Pod
		if err := json.Unmarshal(raw, &pod); err != nil {
			return PodRecord{}, err
		}
		if pod.Name == "" {
			return PodRecord{}, errMissingName
		}
		rec := PodRecord{
			Name:         pod.Name,
			Namespace:    pod.Namespace,
			GenerateName: pod.GenerateName,
			Labels:       pod.Labels,
			Phase:        pod.Status.Phase,
			Ready:        podReady(&pod),
		}
		if owner := controllerOf(pod.OwnerReferences); owner != nil {
			rec.OwnerKind = owner.Kind
			rec.OwnerName = owner.Name
		}
		return rec, nil
	})
}

func podReady(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func controllerOf(refs []metav1.OwnerReference) *metav1.OwnerReference {
	for i := range refs {
		if refs[i].Controller != nil && *refs[i].Controller {
			return &refs[i]
		}
	}
	if len(refs) > 0 {
		return &refs[0]
	}
	return nil
}

// ParsePools 解析 InferencePool 列表
func ParsePools(data []byte) ([]PoolRecord, error) {
	return parseItems(QueryPools, data, func(raw json.RawMessage) (PoolRecord, error) {
		u, err := decodeUnstructured(raw)
		if err != nil {
			return PoolRecord{}, err
		}
		rec := PoolRecord{
			Name:      u.GetName(),
			Namespace: u.GetNamespace(),
			Labels:    u.GetLabels(),
		}
		rec.Selector, _, _ = unstructured.NestedStringMap(u.Object, "spec", "selector")
		if ref, found, _ := unstructured.NestedString(u.Object, "spec", "extensionRef", "name"); found {
			rec.EndpointPickerRef = ref
		} else if ref, found, _ := unstructured.NestedString(u.Object, "spec", "endpointPickerRef", "name"); found {
			rec.EndpointPickerRef = ref
		}
		return rec, nil
	})
}

// ParseServices 解析 Service 列表
func ParseServices(data []byte) ([]ServiceRecord, error) {
	return parseItems(QueryServices, data, func(raw json.RawMessage) (ServiceRecord, error) {
		var svc corev1.Service
		if err := json.Unmarshal(raw, &svc); err != nil {
			return ServiceRecord{}, err
		}
		if svc.Name == "" {
			return ServiceRecord{}, errMissingName
		}
		return ServiceRecord{
			Name:      svc.Name,
			Namespace: svc.Namespace,
			Labels:    svc.Labels,
			Type:      svc.Spec.Type,
		}, nil
	})
}

// ParseGateways 解析 Gateway 列表
func ParseGateways(data []byte) ([]GatewayRecord, error) {
	return parseItems(QueryGateways, data, func(raw json.RawMessage) (GatewayRecord, error) {
		u, err := decodeUnstructured(raw)
		if err != nil {
			return GatewayRecord{}, err
		}
		rec := GatewayRecord{Name: u.GetName(), Namespace: u.GetNamespace()}
		rec.ClassName, _, _ = unstructured.NestedString(u.Object, "spec", "gatewayClassName")

		conditions, _, _ := unstructured.NestedSlice(u.Object, "status", "conditions")
		for _, c := range conditions {
			cond, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			t, _ := cond["type"].(string)
			s, _ := cond["status"].(string)
			if (t == "Programmed" || t == "Accepted") && s == string(metav1.ConditionTrue) {
				rec.Ready = true
			}
		}
		return rec, nil
	})
}

// ParseVariantAutoscalings 解析 VariantAutoscaling 列表
func ParseVariantAutoscalings(data []byte) ([]AutoscalerRecord, error) {
	return parseItems(QueryVariants, data, func(raw json.RawMessage) (AutoscalerRecord, error) {
		u, err := decodeUnstructured(raw)
		if err != nil {
			return AutoscalerRecord{}, err
		}
		rec := AutoscalerRecord{
			Kind:      models.AutoscalerWeightedVariant,
			Name:      u.GetName(),
			Namespace: u.GetNamespace(),
		}
		rec.TargetKind, _, _ = unstructured.NestedString(u.Object, "spec", "scaleTargetRef", "kind")
		rec.TargetName, _, _ = unstructured.NestedString(u.Object, "spec", "scaleTargetRef", "name")
		rec.TargetNamespace, _, _ = unstructured.NestedString(u.Object, "spec", "scaleTargetRef", "namespace")
		rec.ModelName, _, _ = unstructured.NestedString(u.Object, "spec", "modelID")
		rec.MinReplicas = nestedInt32(u, "spec", "minReplicas")
		rec.MaxReplicas = nestedInt32(u, "spec", "maxReplicas")
		rec.CurrentReplicas = nestedInt32(u, "status", "currentAlloc", "numReplicas")
		rec.DesiredReplicas = nestedInt32(u, "status", "desiredOptimizedAlloc", "numReplicas")
		return rec, nil
	})
}

// ParseHPAs 解析 HorizontalPodAutoscaler 列表
func ParseHPAs(data []byte) ([]AutoscalerRecord, error) {
	return parseItems(QueryHPAs, data, func(raw json.RawMessage) (AutoscalerRecord, error) {
		var hpa autoscalingv2.HorizontalPodAutoscaler
		if err := json.Unmarshal(raw, &hpa); err != nil {
			return AutoscalerRecord{}, err
		}
		if hpa.Name == "" {
			return AutoscalerRecord{}, errMissingName
		}
		maxReplicas := hpa.Spec.MaxReplicas
		current := hpa.Status.CurrentReplicas
		desired := hpa.Status.DesiredReplicas
		return AutoscalerRecord{
			Kind:            models.AutoscalerHorizontalPod,
			Name:            hpa.Name,
			Namespace:       hpa.Namespace,
			TargetKind:      hpa.Spec.ScaleTargetRef.Kind,
			TargetName:      hpa.Spec.ScaleTargetRef.Name,
			MinReplicas:     hpa.Spec.MinReplicas,
			MaxReplicas:     &maxReplicas,
			CurrentReplicas: &current,
			DesiredReplicas: &desired,
		}, nil
	})
}

// ParseVPAs 解析 VerticalPodAutoscaler 列表
func ParseVPAs(data []byte) ([]AutoscalerRecord, error) {
	return parseItems(QueryVPAs, data, func(raw json.RawMessage) (AutoscalerRecord, error) {
		u, err := decodeUnstructured(raw)
		if err != nil {
			return AutoscalerRecord{}, err
		}
		rec := AutoscalerRecord{
			Kind:      models.AutoscalerVerticalPod,
			Name:      u.GetName(),
			Namespace: u.GetNamespace(),
		}
		rec.TargetKind, _, _ = unstructured.NestedString(u.Object, "spec", "targetRef", "kind")
		rec.TargetName, _, _ = unstructured.NestedString(u.Object, "spec", "targetRef", "name")
		rec.MinReplicas = nestedInt32(u, "spec", "updatePolicy", "minReplicas")
		return rec, nil
	})
}

// nestedInt32 读取整数字段，JSON 数字解码为 float64 或 int64 均可
func nestedInt32(u *unstructured.Unstructured, fields ...string) *int32 {
	v, found, err := unstructured.NestedFieldNoCopy(u.Object, fields...)
	if err != nil || !found {
		return nil
	}
	var n int32
	switch x := v.(type) {
	case int64:
		n = int32(x)
	case float64:
		n = int32(x)
	case int:
		n = int32(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil
		}
		n = int32(i)
	default:
		return nil
	}
	return &n
}
