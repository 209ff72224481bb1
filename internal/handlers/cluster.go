package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/llmd-polaris/internal/k8s"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// ClusterHandler 集群处理器
type ClusterHandler struct {
	clusterService *services.ClusterService
	k8sMgr         *k8s.ClusterClientManager
}

// NewClusterHandler 创建集群处理器
func NewClusterHandler(clusterService *services.ClusterService, mgr *k8s.ClusterClientManager) *ClusterHandler {
	return &ClusterHandler{
		clusterService: clusterService,
		k8sMgr:         mgr,
	}
}

// ImportClusterRequest 导入集群请求，kubeconfig 与 clusters 至少提供一个
type ImportClusterRequest struct {
	Kubeconfig string `json:"kubeconfig"` // kubeconfig 原文，每个 context 导入为一个集群
	Clusters   string `json:"clusters"`   // YAML 格式的集群列表
}

// GetClusters 获取集群列表
func (h *ClusterHandler) GetClusters(c *gin.Context) {
	clusters, err := h.clusterService.ListClusters()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "获取集群列表失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	// 转换为响应格式
	items := make([]gin.H, 0, len(clusters))
	for _, cluster := range clusters {
		items = append(items, gin.H{
			"id":            cluster.ID,
			"name":          cluster.Name,
			"context":       cluster.Context,
			"apiServer":     cluster.APIServer,
			"version":       cluster.Version,
			"status":        cluster.Status,
			"statusReason":  cluster.StatusReason,
			"lastHeartbeat": cluster.LastHeartbeat,
			"createdAt":     cluster.CreatedAt,
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

// ImportCluster 导入集群
func (h *ClusterHandler) ImportCluster(c *gin.Context) {
	var req ImportClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "参数错误: " + err.Error(),
			"data":    nil,
		})
		return
	}
	if req.Kubeconfig == "" && req.Clusters == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "kubeconfig 与 clusters 至少提供一个",
			"data":    nil,
		})
		return
	}

	var clusters []models.Cluster
	if req.Kubeconfig != "" {
		parsed, err := k8s.ParseKubeconfigContexts([]byte(req.Kubeconfig))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": err.Error(),
				"data":    nil,
			})
			return
		}
		clusters = append(clusters, parsed...)
	}
	if req.Clusters != "" {
		parsed, err := services.ParseClusterFile([]byte(req.Clusters))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": err.Error(),
				"data":    nil,
			})
			return
		}
		clusters = append(clusters, parsed...)
	}

	result, err := h.clusterService.ImportClusters(clusters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "导入集群失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	logger.Info("集群导入完成", "imported", len(result.Imported), "skipped", len(result.Skipped))
	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "导入成功",
		"data":    result,
	})
}

// TestConnection 测试集群连接
func (h *ClusterHandler) TestConnection(c *gin.Context) {
	name := c.Param("name")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	info, err := h.k8sMgr.TestCluster(ctx, name)
	if err != nil {
		if errors.Is(err, k8s.ErrClusterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    404,
				"message": "集群不存在",
				"data":    nil,
			})
			return
		}
		logger.Warn("集群连接测试失败", "cluster", name, "error", err)
		c.JSON(http.StatusOK, gin.H{
			"code":    200,
			"message": "连接失败",
			"data": gin.H{
				"connected":   false,
				"error":       err.Error(),
				"diagnosis":   k8s.AnalyzeConnectionError(err),
				"clusterInfo": nil,
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "连接成功",
		"data": gin.H{
			"connected":   true,
			"clusterInfo": info,
		},
	})
}

// DeleteCluster 删除集群
func (h *ClusterHandler) DeleteCluster(c *gin.Context) {
	name := c.Param("name")

	if err := h.clusterService.DeleteCluster(name); err != nil {
		if errors.Is(err, k8s.ErrClusterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    404,
				"message": "集群不存在",
				"data":    nil,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "删除集群失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	// 删除集群时释放其客户端
	h.k8sMgr.StopForCluster(name)

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "删除成功",
		"data":    nil,
	})
}
