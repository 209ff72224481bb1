package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clay-wangzhi/llmd-polaris/internal/metrics"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
	"github.com/clay-wangzhi/llmd-polaris/internal/stream"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// StreamHandler 流式数据处理器
type StreamHandler struct {
	servers  *services.ServerStreamer
	upgrader websocket.Upgrader
}

// NewStreamHandler 创建流式数据处理器
func NewStreamHandler(servers *services.ServerStreamer) *StreamHandler {
	return &StreamHandler{
		servers: servers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源，生产环境应该限制
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// StreamServers 按集群逐批推送 llm-d 推理服务实例
//
// 帧格式: connected → batch* → done | error。客户端断开时停止查询剩余集群。
func (h *StreamHandler) StreamServers(c *gin.Context) {
	// 升级WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("WebSocket升级失败", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := uuid.NewString()
	logger.Debug("数据流会话开始", "session", session, "remote", c.ClientIP())
	metrics.StreamOpened("servers")
	defer func() {
		metrics.StreamClosed("servers")
		logger.Debug("数据流会话结束", "session", session)
	}()

	if err := conn.WriteJSON(stream.ConnectedFrame("已连接推理服务数据流")); err != nil {
		return
	}

	// 监听客户端断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = h.servers.Stream(ctx, func(f stream.Frame) error {
		return conn.WriteJSON(f)
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("推理服务数据流异常结束", "session", session, "error", err)
		return
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
