package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/llmd-polaris/internal/services"
)

// CardHandler 仪表盘卡片处理器
type CardHandler struct {
	cards *services.CardService
}

// NewCardHandler 创建卡片处理器
func NewCardHandler(cards *services.CardService) *CardHandler {
	return &CardHandler{cards: cards}
}

// GetCards 获取全部卡片状态
func (h *CardHandler) GetCards(c *gin.Context) {
	states := h.cards.States()
	items := make([]gin.H, 0, len(states))
	for _, key := range h.cards.Keys() {
		state, ok := states[key]
		if !ok {
			continue
		}
		items = append(items, gin.H{
			"key":   key,
			"state": state,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "获取成功",
		"data": gin.H{
			"items": items,
			"total": len(items),
		},
	})
}

// GetCard 获取单张卡片状态
func (h *CardHandler) GetCard(c *gin.Context) {
	key := c.Param("key")
	state, err := h.cards.State(key)
	if err != nil {
		respondCardError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "获取成功",
		"data":    state,
	})
}

// RefreshCard 手动刷新卡片并返回刷新后的状态
//
// 已有拉取在进行时不排队，started 为 false。
func (h *CardHandler) RefreshCard(c *gin.Context) {
	key := c.Param("key")
	started, err := h.cards.Refresh(c.Request.Context(), key)
	if err != nil {
		respondCardError(c, err)
		return
	}
	state, err := h.cards.State(key)
	if err != nil {
		respondCardError(c, err)
		return
	}

	message := "刷新完成"
	if !started {
		message = "刷新正在进行中"
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": message,
		"data": gin.H{
			"started": started,
			"state":   state,
		},
	})
}

func respondCardError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrCardNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    404,
			"message": err.Error(),
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    500,
		"message": err.Error(),
		"data":    nil,
	})
}
