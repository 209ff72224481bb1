package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clay-wangzhi/llmd-polaris/internal/freshness"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
	"github.com/clay-wangzhi/llmd-polaris/internal/stream"
)

func streamServer(t *testing.T, pods map[string][]byte, clusters ...string) string {
	gin.SetMode(gin.TestMode)
	fleet := services.NewFleet(fleetExecutor(pods), listClusters(clusters...), "", time.Second)

	r := gin.New()
	r.GET("/api/v1/stream/servers", NewStreamHandler(services.NewServerStreamer(fleet)).StreamServers)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/servers"
}

func TestStreamServers_Frames(t *testing.T) {
	url := streamServer(t, map[string][]byte{
		"prod":  podsJSON(t, "llm", "llama-decode-0", "llama-decode-1"),
		"empty": podsJSON(t, "llm"),
	}, "prod", "empty", "offline")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frames []stream.Frame
	for {
		var f stream.Frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		frames = append(frames, f)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, "connected", frames[0].Type)
	assert.Equal(t, string(stream.EventBatch), frames[1].Type)
	assert.Equal(t, "prod", frames[1].Cluster)
	assert.Equal(t, string(stream.EventDone), frames[2].Type)
}

func TestStreamServers_AllClustersFail(t *testing.T) {
	url := streamServer(t, map[string][]byte{}, "offline")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var last stream.Frame
	for {
		var f stream.Frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		last = f
	}
	assert.Equal(t, string(stream.EventError), last.Type)
}

func TestStreamServers_DrivesReconciler(t *testing.T) {
	url := streamServer(t, map[string][]byte{
		"prod":    podsJSON(t, "llm", "llama-decode-0"),
		"staging": podsJSON(t, "llm", "llama-prefill-0", "llama-decode-0"),
	}, "prod", "staging")

	rec := stream.NewReconciler[models.ServerSummary]("servers", stream.NewWebSocketSource[models.ServerSummary](url))
	require.True(t, rec.Start(context.Background()))

	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}

	assert.Equal(t, stream.StateDone, rec.StreamState())
	assert.Equal(t, 3, rec.Progress())

	view := rec.View(freshness.State[[]models.ServerSummary]{Value: []models.ServerSummary{}, IsDemoFallback: true})
	assert.Len(t, view.Value, 3)
	assert.False(t, view.IsDemoFallback)
}
