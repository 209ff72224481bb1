package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/kvstore"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/snapshot"
)

func emptyExecutor() discovery.Executor {
	return discovery.ExecutorFunc(func(context.Context, string, discovery.Query) ([]byte, error) {
		return []byte(`{"items":[]}`), nil
	})
}

func listClusters(names ...string) discovery.ClusterLister {
	return func(context.Context) ([]string, error) { return names, nil }
}

func stackRouter(engine *discovery.Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewStackHandler(engine)
	r := gin.New()
	r.GET("/api/v1/stacks", h.GetStacks)
	r.POST("/api/v1/stacks/refetch", h.RefetchStacks)
	return r
}

type stackResponse struct {
	Code int       `json:"code"`
	Data StackView `json:"data"`
}

func getStacks(t *testing.T, r *gin.Engine) stackResponse {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/stacks", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp stackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func postRefetch(r *gin.Engine) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/stacks/refetch", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestGetStacks_DemoFallbackWhenEmpty(t *testing.T) {
	r := stackRouter(discovery.NewEngine(emptyExecutor(), discovery.Config{}))

	resp := getStacks(t, r)
	assert.Equal(t, 200, resp.Code)
	assert.True(t, resp.Data.IsDemoFallback)
	assert.Len(t, resp.Data.Stacks, len(discovery.DemoStacks()))
	assert.Equal(t, discovery.PhaseIdle, resp.Data.Phase)
}

func TestGetStacks_FromSnapshot(t *testing.T) {
	bridge := snapshot.NewBridge[[]models.Stack](kvstore.NewMemoryStore(), "llmd-stacks", time.Minute)
	bridge.Save(discovery.DemoStacks()[:1])

	engine := discovery.NewEngine(emptyExecutor(), discovery.Config{}, discovery.WithSnapshot(bridge))
	loaded, fresh := engine.LoadSnapshot()
	require.True(t, loaded)
	require.True(t, fresh)

	resp := getStacks(t, stackRouter(engine))
	assert.False(t, resp.Data.IsDemoFallback)
	require.Len(t, resp.Data.Stacks, 1)
	assert.Equal(t, discovery.DemoStacks()[0].ID, resp.Data.Stacks[0].ID)
	assert.NotNil(t, resp.Data.LastRefresh)
}

func TestRefetchStacks_NoClusterSource(t *testing.T) {
	r := stackRouter(discovery.NewEngine(emptyExecutor(), discovery.Config{}))
	assert.Equal(t, http.StatusInternalServerError, postRefetch(r))
}

func TestRefetchStacks(t *testing.T) {
	engine := discovery.NewEngine(emptyExecutor(), discovery.Config{}, discovery.WithClusterLister(listClusters("prod")))
	r := stackRouter(engine)

	assert.Equal(t, http.StatusAccepted, postRefetch(r))
	assert.Eventually(t, func() bool {
		return engine.State().Phase == discovery.PhaseSettled
	}, 2*time.Second, 10*time.Millisecond)

	// 集群为空，仍返回演示数据
	resp := getStacks(t, r)
	assert.True(t, resp.Data.IsDemoFallback)
	require.Len(t, resp.Data.Outcomes, 1)
	assert.Equal(t, "prod", resp.Data.Outcomes[0].Cluster)
}

func TestRefetchStacks_InProgress(t *testing.T) {
	gate := make(chan struct{})
	exec := discovery.ExecutorFunc(func(ctx context.Context, _ string, _ discovery.Query) ([]byte, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []byte(`{"items":[]}`), nil
	})
	engine := discovery.NewEngine(exec, discovery.Config{QueryTimeout: 5 * time.Second}, discovery.WithClusterLister(listClusters("prod")))
	r := stackRouter(engine)

	assert.Equal(t, http.StatusAccepted, postRefetch(r))
	require.Eventually(t, func() bool {
		return engine.State().Phase == discovery.PhaseRunning
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusConflict, postRefetch(r))
	// 首个周期且无数据时视为加载中，不返回演示数据
	resp := getStacks(t, r)
	assert.True(t, resp.Data.IsLoading)
	assert.False(t, resp.Data.IsDemoFallback)

	close(gate)
	assert.Eventually(t, func() bool {
		return engine.State().Phase == discovery.PhaseSettled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetStacks_DemoStableAcrossFailedCycles(t *testing.T) {
	var mu sync.Mutex
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	exec := discovery.ExecutorFunc(func(ctx context.Context, _ string, q discovery.Query) ([]byte, error) {
		if q.Name == discovery.QueryPods {
			mu.Lock()
			g := gate
			mu.Unlock()
			entered <- struct{}{}
			select {
			case <-g:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, errors.New("dial tcp 10.0.0.1:6443: connect: connection refused")
	})
	release := func() {
		mu.Lock()
		close(gate)
		gate = make(chan struct{})
		mu.Unlock()
	}
	engine := discovery.NewEngine(exec, discovery.Config{QueryTimeout: 5 * time.Second}, discovery.WithClusterLister(listClusters("prod")))
	r := stackRouter(engine)

	// 首个周期开始前
	resp := getStacks(t, r)
	assert.True(t, resp.Data.IsLoading)
	assert.False(t, resp.Data.IsDemoFallback)
	assert.Empty(t, resp.Data.Stacks)

	for cycle := 1; cycle <= 2; cycle++ {
		require.Eventually(t, func() bool { return postRefetch(r) == http.StatusAccepted }, 2*time.Second, 10*time.Millisecond)
		<-entered

		resp = getStacks(t, r)
		if cycle == 1 {
			assert.True(t, resp.Data.IsLoading)
			assert.False(t, resp.Data.IsDemoFallback)
		} else {
			assert.False(t, resp.Data.IsLoading)
			assert.True(t, resp.Data.IsRefreshing)
			assert.True(t, resp.Data.IsDemoFallback)
			assert.Len(t, resp.Data.Stacks, len(discovery.DemoStacks()))
		}

		release()
		require.Eventually(t, func() bool {
			return engine.State().Phase == discovery.PhaseSettled
		}, 2*time.Second, 10*time.Millisecond)

		resp = getStacks(t, r)
		assert.False(t, resp.Data.IsLoading)
		assert.True(t, resp.Data.IsDemoFallback)
		assert.Len(t, resp.Data.Stacks, len(discovery.DemoStacks()))
		assert.NotEmpty(t, resp.Data.Error)
	}
}
