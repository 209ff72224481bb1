package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/clay-wangzhi/llmd-polaris/internal/metrics"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/stream"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// streamServers 推理服务流名称（指标标签）
const streamServers = "servers"

var errAllClustersFailed = errors.New("所有集群均无法查询")

// ServerStreamer 按集群逐批推送推理服务实例
type ServerStreamer struct {
	fleet *Fleet
}

// NewServerStreamer 创建推理服务流
func NewServerStreamer(fleet *Fleet) *ServerStreamer {
	return &ServerStreamer{fleet: fleet}
}

// Stream 每个集群发送一个 batch 帧，全部完成后发送 done 帧
//
// 单个集群失败只记录日志；集群列表获取失败时发送 error 帧。emit 返回错误（连接断开）时立即停止。
func (s *ServerStreamer) Stream(ctx context.Context, emit func(stream.Frame) error) error {
	clusters, err := s.fleet.ClusterNames(ctx)
	if err != nil {
		_ = emit(stream.ErrorFrame(fmt.Sprintf("获取集群列表失败: %v", err)))
		return err
	}

	total, failed := 0, 0
	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return err
		}
		servers, err := s.fleet.Servers(ctx, cluster)
		if err != nil {
			failed++
			logger.Warn("流式查询集群失败", "cluster", cluster, "error", err)
			continue
		}
		if len(servers) == 0 {
			continue
		}
		frame, err := stream.BatchFrame(cluster, servers)
		if err != nil {
			return err
		}
		if err := emit(frame); err != nil {
			return err
		}
		total += len(servers)
		metrics.RecordStreamItems(streamServers, len(servers))
	}

	if len(clusters) > 0 && failed == len(clusters) {
		_ = emit(stream.ErrorFrame(errAllClustersFailed.Error()))
		return errAllClustersFailed
	}
	return emit(stream.DoneFrame(fmt.Sprintf("共 %d 个集群 %d 个实例", len(clusters), total)))
}

// Source 进程内事件源，直接驱动 Reconciler 而不经过网络
func (s *ServerStreamer) Source() stream.Source[models.ServerSummary] {
	return stream.SourceFunc[models.ServerSummary](func(ctx context.Context) (<-chan stream.Event[models.ServerSummary], error) {
		ch := make(chan stream.Event[models.ServerSummary])
		go func() {
			defer close(ch)
			_ = s.Stream(ctx, func(f stream.Frame) error {
				ev, ok := stream.DecodeFrame[models.ServerSummary](f)
				if !ok {
					return nil
				}
				select {
				case ch <- ev:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()
		return ch, nil
	})
}
