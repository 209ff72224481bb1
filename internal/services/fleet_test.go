package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/freshness"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/stream"
)

// fakeExecutor 按集群与查询名返回预设响应，未配置的集群连接被拒绝
type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]map[string]string
	errs      map[string]map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{responses: map[string]map[string]string{}, errs: map[string]map[string]error{}}
}

func (f *fakeExecutor) with(cluster, query, body string) *fakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responses[cluster] == nil {
		f.responses[cluster] = map[string]string{}
	}
	f.responses[cluster][query] = body
	return f
}

func (f *fakeExecutor) fail(cluster, query string, err error) *fakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs[cluster] == nil {
		f.errs[cluster] = map[string]error{}
	}
	f.errs[cluster][query] = err
	return f
}

func (f *fakeExecutor) Execute(ctx context.Context, cluster string, q discovery.Query) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[cluster][q.Name]; err != nil {
		return nil, err
	}
	resp, ok := f.responses[cluster]
	if !ok {
		return nil, errors.New("dial tcp: connect: connection refused")
	}
	if body, ok := resp[q.Name]; ok {
		return []byte(body), nil
	}
	return []byte(`{"items":[]}`), nil
}

func staticLister(names ...string) discovery.ClusterLister {
	return func(context.Context) ([]string, error) { return names, nil }
}

func podList(t *testing.T, ns string, names ...string) string {
	items := make([]map[string]interface{}, 0, len(names))
	for _, n := range names {
		items = append(items, map[string]interface{}{
			"metadata": map[string]interface{}{
				"name": n, "namespace": ns,
				"labels": map[string]interface{}{"llm-d.ai/model": "llama"},
			},
			"status": map[string]interface{}{
				"phase":      "Running",
				"conditions": []interface{}{map[string]interface{}{"type": "Ready", "status": "True"}},
			},
		})
	}
	b, err := json.Marshal(map[string]interface{}{"items": items})
	require.NoError(t, err)
	return string(b)
}

func TestFleet_Servers(t *testing.T) {
	exec := newFakeExecutor().with("prod", discovery.QueryPods, podList(t, "llm", "llama-prefill-0", "llama-decode-0"))
	fleet := NewFleet(exec, staticLister("prod"), "", time.Second)

	servers, err := fleet.Servers(context.Background(), "prod")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, models.RolePrefill, servers[0].Role)
	assert.Equal(t, models.RoleDecode, servers[1].Role)
	assert.Equal(t, "llama", servers[0].ModelName)
	assert.True(t, servers[0].Ready)
	assert.Equal(t, "Running", servers[0].Phase)
	assert.Equal(t, "prod", servers[0].Cluster)
}

func TestFleet_AllServers_PartialFailure(t *testing.T) {
	exec := newFakeExecutor().with("prod", discovery.QueryPods, podList(t, "llm", "vllm-0"))
	fleet := NewFleet(exec, staticLister("prod", "offline"), "", time.Second)

	servers, err := fleet.AllServers(context.Background())
	require.NoError(t, err)
	assert.Len(t, servers, 1)

	fleet = NewFleet(exec, staticLister("offline"), "", time.Second)
	_, err = fleet.AllServers(context.Background())
	assert.Error(t, err)

	fleet = NewFleet(exec, staticLister(), "", time.Second)
	servers, err = fleet.AllServers(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, servers)
	assert.Empty(t, servers)
}

func TestFleet_Autoscalers(t *testing.T) {
	hpa := `{"items":[{"metadata":{"name":"llama-hpa","namespace":"llm"},
		"spec":{"scaleTargetRef":{"kind":"Deployment","name":"llama-decode"},"minReplicas":1,"maxReplicas":4},
		"status":{"currentReplicas":2,"desiredReplicas":3}}]}`
	exec := newFakeExecutor().
		with("prod", discovery.QueryHPAs, hpa).
		fail("prod", discovery.QueryVariants, apierrors.NewNotFound(discovery.VariantsGVR.GroupResource(), ""))
	fleet := NewFleet(exec, staticLister("prod"), "", time.Second)

	out, err := fleet.Autoscalers(context.Background(), "prod")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "llm/llama-decode", out[0].Target)
	assert.Equal(t, models.AutoscalerHorizontalPod, out[0].Binding.Kind)
	assert.Equal(t, int32(4), *out[0].Binding.MaxReplicas)

	_, err = fleet.Autoscalers(context.Background(), "offline")
	assert.Error(t, err)
}

type staticClusters []*models.Cluster

func (s staticClusters) ListClusters() ([]*models.Cluster, error) { return s, nil }

func TestCardService(t *testing.T) {
	exec := newFakeExecutor().with("prod", discovery.QueryPods, podList(t, "llm", "vllm-0"))
	fleet := NewFleet(exec, staticLister("prod"), "", time.Second)
	registry := freshness.NewRegistry(freshness.WithManualRefresh())
	defer registry.Close()

	cards, err := NewCardService(registry, staticClusters{{Name: "prod"}}, fleet, CardConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{CardAutoscalers, CardClusters, CardServers}, cards.Keys())

	state, err := cards.State(CardServers)
	require.NoError(t, err)
	assert.True(t, state.IsLoading)

	ok, err := cards.Refresh(context.Background(), CardServers)
	require.NoError(t, err)
	assert.True(t, ok)
	servers := cards.Servers()
	require.Len(t, servers.Value, 1)
	assert.False(t, servers.IsDemoFallback)

	// 没有扩缩容器时展示演示数据
	_, err = cards.Refresh(context.Background(), CardAutoscalers)
	require.NoError(t, err)
	state, err = cards.State(CardAutoscalers)
	require.NoError(t, err)
	assert.True(t, state.IsDemoFallback)
	assert.Equal(t, DemoAutoscalers(), state.Value)

	_, err = cards.Refresh(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCardNotFound)
	_, err = cards.State("nope")
	assert.ErrorIs(t, err, ErrCardNotFound)

	assert.Len(t, cards.States(), 3)

	// 第二个服务实例复用已登记的条目
	again, err := NewCardService(registry, staticClusters{}, fleet, CardConfig{})
	require.NoError(t, err)
	assert.Len(t, again.Servers().Value, 1)
}

func TestServerStreamer_Stream(t *testing.T) {
	exec := newFakeExecutor().
		with("a", discovery.QueryPods, podList(t, "llm", "vllm-0", "vllm-1")).
		with("b", discovery.QueryPods, podList(t, "llm", "vllm-2")).
		with("empty", discovery.QueryPods, `{"items":[]}`)
	streamer := NewServerStreamer(NewFleet(exec, staticLister("a", "offline", "empty", "b"), "", time.Second))

	var frames []stream.Frame
	err := streamer.Stream(context.Background(), func(f stream.Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "a", frames[0].Cluster)
	assert.Equal(t, "b", frames[1].Cluster)
	assert.Equal(t, string(stream.EventDone), frames[2].Type)
}

func TestServerStreamer_AllFailed(t *testing.T) {
	streamer := NewServerStreamer(NewFleet(newFakeExecutor(), staticLister("x"), "", time.Second))
	var last stream.Frame
	err := streamer.Stream(context.Background(), func(f stream.Frame) error {
		last = f
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, string(stream.EventError), last.Type)
}

func TestServerStreamer_DrivesReconciler(t *testing.T) {
	exec := newFakeExecutor().
		with("a", discovery.QueryPods, podList(t, "llm", "vllm-0", "vllm-1")).
		with("b", discovery.QueryPods, podList(t, "llm", "vllm-2"))
	streamer := NewServerStreamer(NewFleet(exec, staticLister("a", "b"), "", time.Second))

	r := stream.NewReconciler[models.ServerSummary]("servers", streamer.Source())
	require.True(t, r.Start(context.Background()))
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}
	assert.Equal(t, stream.StateDone, r.StreamState())
	assert.Equal(t, 3, r.Progress())
}
