package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/clay-wangzhi/llmd-polaris/internal/config"
	"github.com/clay-wangzhi/llmd-polaris/internal/database"
	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/freshness"
	"github.com/clay-wangzhi/llmd-polaris/internal/k8s"
	"github.com/clay-wangzhi/llmd-polaris/internal/kvstore"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/router"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
	"github.com/clay-wangzhi/llmd-polaris/internal/snapshot"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// stacksSnapshotKey 推理栈快照的存储键
const stacksSnapshotKey = "llmd-stacks"

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务与后台发现",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port > 0 {
				cfg.Server.Port = port
			}
			logger.Init(rootOpts.logLevel(cfg.Log.Level))
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "监听端口，默认取 SERVER_PORT")
	return cmd
}

func runServe(cfg *config.Config) error {
	// 初始化数据库连接
	db, err := database.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("数据库初始化失败: %w", err)
	}

	store, closeStore := kvstore.Open(cfg.Cache, db)
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("关闭缓存存储失败", "error", err)
		}
	}()

	clusterSvc := services.NewClusterService(db)
	importConfiguredClusters(cfg, clusterSvc)

	// K8s 客户端管理器
	k8sMgr := k8s.NewClusterClientManager(clusterSvc, k8s.WithRequestTimeout(cfg.K8s.RequestTimeout))
	defer k8sMgr.Stop()

	engine := discovery.NewEngine(k8sMgr, discovery.Config{
		Interval:       cfg.Discovery.Interval,
		QueryTimeout:   cfg.Discovery.QueryTimeout,
		WarmStartDelay: cfg.Discovery.WarmStartDelay,
		PodSelector:    cfg.Discovery.PodSelector,
	},
		discovery.WithSnapshot(snapshot.NewBridge[[]models.Stack](store, stacksSnapshotKey, cfg.Discovery.SnapshotTTL)),
		discovery.WithClusterLister(k8sMgr.ClusterNames),
		discovery.WithOutcomeHook(clusterSvc.RecordOutcome),
	)

	registry := freshness.NewRegistry(freshness.WithStore(store))
	defer registry.Close()

	fleet := services.NewFleet(k8sMgr, k8sMgr.ClusterNames, cfg.Discovery.PodSelector, cfg.Discovery.QueryTimeout)
	cards, err := services.NewCardService(registry, clusterSvc, fleet, services.CardConfig{
		TTL:             cfg.Cache.TTL,
		RefreshInterval: cfg.Cache.RefreshInterval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.Run(ctx)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.Setup(cfg, router.Deps{
		DB:             db,
		ClusterService: clusterSvc,
		K8sMgr:         k8sMgr,
		Engine:         engine,
		Cards:          cards,
		Streamer:       services.NewServerStreamer(fleet),
	})

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务器启动在端口: %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("服务器启动失败: %w", err)
	}
	logger.Info("正在关闭服务器...")

	// 设置 5 秒的超时时间来关闭服务器
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	logger.Info("服务器已退出")
	return nil
}

// importConfiguredClusters 启动时导入 KUBECONFIG 与集群文件中的集群，已存在的跳过
func importConfiguredClusters(cfg *config.Config, svc *services.ClusterService) {
	if cfg.K8s.Kubeconfig != "" {
		result, err := svc.ImportFromKubeconfig(cfg.K8s.Kubeconfig)
		if err != nil {
			logger.Warn("导入 kubeconfig 集群失败", "path", cfg.K8s.Kubeconfig, "error", err)
		} else {
			logger.Info("已导入 kubeconfig 集群", "imported", len(result.Imported), "skipped", len(result.Skipped))
		}
	}
	if cfg.K8s.ClustersFile != "" {
		result, err := svc.ImportFromFile(cfg.K8s.ClustersFile)
		if err != nil {
			logger.Warn("导入集群文件失败", "path", cfg.K8s.ClustersFile, "error", err)
		} else {
			logger.Info("已导入集群文件", "imported", len(result.Imported), "skipped", len(result.Skipped))
		}
	}
}
