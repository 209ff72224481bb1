package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
)

// StackHandler 推理栈处理器
type StackHandler struct {
	engine *discovery.Engine
}

// NewStackHandler 创建推理栈处理器
func NewStackHandler(engine *discovery.Engine) *StackHandler {
	return &StackHandler{engine: engine}
}

// StackView 推理栈列表响应
type StackView struct {
	discovery.State
	IsDemoFallback bool `json:"isDemoFallback"`
}

// GetStacks 获取推理栈列表
//
// 尚无任何已知栈且不处于首次加载时返回演示数据，后续周期运行期间同样保持演示数据。
func (h *StackHandler) GetStacks(c *gin.Context) {
	view := StackView{State: h.engine.State()}
	if len(view.Stacks) == 0 && !view.IsLoading {
		view.Stacks = discovery.DemoStacks()
		view.IsDemoFallback = true
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "获取成功",
		"data":    view,
	})
}

// RefetchStacks 立即触发一次发现周期
func (h *StackHandler) RefetchStacks(c *gin.Context) {
	err := h.engine.Refetch(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"code":    202,
			"message": "已触发发现",
			"data":    nil,
		})
	case errors.Is(err, discovery.ErrDiscoveryInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"code":    409,
			"message": "发现周期正在进行中",
			"data":    nil,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "触发发现失败: " + err.Error(),
			"data":    nil,
		})
	}
}
