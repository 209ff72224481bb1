package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/internal/freshness"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

// 仪表盘卡片缓存键
const (
	CardClusters    = "clusters"
	CardServers     = "llmd-servers"
	CardAutoscalers = "autoscalers"
)

// ErrCardNotFound 卡片不存在
var ErrCardNotFound = errors.New("卡片不存在")

// ClusterReader 读取已注册集群
type ClusterReader interface {
	ListClusters() ([]*models.Cluster, error)
}

// CardConfig 卡片缓存配置
type CardConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
}

// CardService 仪表盘卡片数据，每张卡片一个新鲜度缓存条目
type CardService struct {
	registry    *freshness.Registry
	clusters    *freshness.Entry[[]models.Cluster]
	servers     *freshness.Entry[[]models.ServerSummary]
	autoscalers *freshness.Entry[[]models.AutoscalerSummary]
}

// NewCardService 在注册表中登记全部卡片
func NewCardService(registry *freshness.Registry, clusters ClusterReader, fleet *Fleet, cfg CardConfig) (*CardService, error) {
	s := &CardService{registry: registry}

	var err error
	s.clusters, err = freshness.Use(registry, CardClusters, freshness.Options[[]models.Cluster]{
		Fetcher: func(ctx context.Context) ([]models.Cluster, error) {
			list, err := clusters.ListClusters()
			if err != nil {
				return nil, err
			}
			out := make([]models.Cluster, 0, len(list))
			for _, c := range list {
				out = append(out, *c)
			}
			return out, nil
		},
		InitialValue:    []models.Cluster{},
		DemoValue:       DemoClusters(),
		TTL:             cfg.TTL,
		RefreshInterval: cfg.RefreshInterval,
		Persist:         true,
		DemoWhenEmpty:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("注册卡片 %s 失败: %w", CardClusters, err)
	}

	s.servers, err = freshness.Use(registry, CardServers, freshness.Options[[]models.ServerSummary]{
		Fetcher:         fleet.AllServers,
		InitialValue:    []models.ServerSummary{},
		DemoValue:       DemoServers(),
		TTL:             cfg.TTL,
		RefreshInterval: cfg.RefreshInterval,
		Persist:         true,
		DemoWhenEmpty:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("注册卡片 %s 失败: %w", CardServers, err)
	}

	s.autoscalers, err = freshness.Use(registry, CardAutoscalers, freshness.Options[[]models.AutoscalerSummary]{
		Fetcher:         fleet.AllAutoscalers,
		InitialValue:    []models.AutoscalerSummary{},
		DemoValue:       DemoAutoscalers(),
		TTL:             cfg.TTL,
		RefreshInterval: cfg.RefreshInterval,
		Persist:         true,
		DemoWhenEmpty:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("注册卡片 %s 失败: %w", CardAutoscalers, err)
	}
	return s, nil
}

// Keys 全部卡片键
func (s *CardService) Keys() []string {
	return s.registry.Keys()
}

// State 单张卡片的当前状态
func (s *CardService) State(key string) (freshness.State[any], error) {
	h, ok := s.registry.Lookup(key)
	if !ok {
		return freshness.State[any]{}, fmt.Errorf("%w: %s", ErrCardNotFound, key)
	}
	return h.Snapshot(), nil
}

// States 全部卡片状态
func (s *CardService) States() map[string]freshness.State[any] {
	out := make(map[string]freshness.State[any])
	for _, key := range s.registry.Keys() {
		if h, ok := s.registry.Lookup(key); ok {
			out[key] = h.Snapshot()
		}
	}
	return out
}

// Refresh 手动刷新卡片，已有拉取在进行时返回 false
func (s *CardService) Refresh(ctx context.Context, key string) (bool, error) {
	h, ok := s.registry.Lookup(key)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrCardNotFound, key)
	}
	return h.Refresh(ctx), nil
}

// Servers 推理服务卡片的强类型状态，供流式视图作为回退
func (s *CardService) Servers() freshness.State[[]models.ServerSummary] {
	return s.servers.State()
}
