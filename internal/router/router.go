package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/clay-wangzhi/llmd-polaris/internal/config"
	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/handlers"
	"github.com/clay-wangzhi/llmd-polaris/internal/k8s"
	"github.com/clay-wangzhi/llmd-polaris/internal/middleware"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
)

// Deps 路由依赖的服务实例，由启动流程统一创建
type Deps struct {
	DB             *gorm.DB
	ClusterService *services.ClusterService
	K8sMgr         *k8s.ClusterClientManager
	Engine         *discovery.Engine
	Cards          *services.CardService
	Streamer       *services.ServerStreamer
}

// Setup 创建 gin 引擎并注册全部路由
func Setup(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()

	// 全局中间件
	r.Use(
		gin.Recovery(),
		gin.Logger(),
		middleware.CORS(),
		// WebSocket 升级不能经过压缩
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/stream"})),
	)

	// Health endpoints：liveness 与 readiness
	health := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// /api/v1
	api := r.Group("/api/v1")

	clusterHandler := handlers.NewClusterHandler(deps.ClusterService, deps.K8sMgr)
	clusters := api.Group("/clusters")
	{
		clusters.GET("", clusterHandler.GetClusters)
		clusters.POST("/import", clusterHandler.ImportCluster)
		clusters.POST("/:name/test-connection", clusterHandler.TestConnection)
		clusters.DELETE("/:name", clusterHandler.DeleteCluster)
	}

	stackHandler := handlers.NewStackHandler(deps.Engine)
	stacks := api.Group("/stacks")
	{
		stacks.GET("", stackHandler.GetStacks)
		stacks.POST("/refetch", stackHandler.RefetchStacks)
	}

	cardHandler := handlers.NewCardHandler(deps.Cards)
	cards := api.Group("/cards")
	{
		cards.GET("", cardHandler.GetCards)
		cards.GET("/:key", cardHandler.GetCard)
		cards.POST("/:key/refresh", cardHandler.RefreshCard)
	}

	streamHandler := handlers.NewStreamHandler(deps.Streamer)
	api.GET("/stream/servers", streamHandler.StreamServers)

	return r
}
