package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clay-wangzhi/llmd-polaris/internal/freshness"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
	"github.com/clay-wangzhi/llmd-polaris/internal/stream"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

type watchOptions struct {
	Server   string
	Interval time.Duration
	Timeout  time.Duration
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "订阅服务端的推理服务数据流并输出合并后的视图",
		Long: `连接 serve 的 /api/v1/stream/servers 数据流，逐集群累积推理服务实例。

数据流尚无数据或失败时，使用 /api/v1/cards/llmd-servers 的缓存结果作为回退。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := rootOpts.LogLevel
			if level == "" {
				level = "warn"
			}
			logger.Init(level)
			return runWatch(cmd.Context(), opts, rootOpts.Output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "http://localhost:8080", "serve 的访问地址")
	cmd.Flags().DurationVar(&opts.Interval, "progress-interval", time.Second, "进度输出间隔")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "整体超时")
	return cmd
}

func runWatch(parent context.Context, opts *watchOptions, format string, out io.Writer) error {
	streamURL, err := toStreamURL(opts.Server)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// 回退数据：服务端卡片缓存，拉取失败或为空时为演示数据
	registry := freshness.NewRegistry(freshness.WithManualRefresh())
	defer registry.Close()
	fallback, err := freshness.Use(registry, services.CardServers, freshness.Options[[]models.ServerSummary]{
		Fetcher:       cardFetcher(&http.Client{Timeout: 10 * time.Second}, opts.Server, services.CardServers),
		InitialValue:  []models.ServerSummary{},
		DemoValue:     services.DemoServers(),
		DemoWhenEmpty: true,
	})
	if err != nil {
		return err
	}
	fallbackDone := make(chan struct{})
	go func() {
		defer close(fallbackDone)
		fallback.Refresh(ctx)
	}()

	rec := stream.NewReconciler[models.ServerSummary]("servers", stream.NewWebSocketSource[models.ServerSummary](streamURL))
	rec.Start(ctx)
	defer rec.Cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-rec.Done():
			break wait
		case <-ctx.Done():
			break wait
		case <-ticker.C:
			logger.Info("数据流进行中", "received", rec.Progress())
		}
	}

	if err := rec.Err(); err != nil {
		logger.Warn("数据流失败，使用缓存数据", "error", err)
	}
	if rec.Progress() == 0 {
		select {
		case <-fallbackDone:
		case <-ctx.Done():
		}
	}
	return renderServers(out, format, rec.View(fallback.State()))
}

// toStreamURL 把 http(s) 服务地址转换为数据流的 ws(s) 地址
func toStreamURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("无效的服务地址 %q: %w", server, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("不支持的协议 %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/stream/servers"
	return u.String(), nil
}

// cardFetcher 读取服务端卡片状态中的值
func cardFetcher(client *http.Client, server, key string) freshness.Fetcher[[]models.ServerSummary] {
	endpoint := strings.TrimSuffix(server, "/") + "/api/v1/cards/" + url.PathEscape(key)
	return func(ctx context.Context) ([]models.ServerSummary, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("获取卡片 %s 失败: HTTP %d", key, resp.StatusCode)
		}
		var body struct {
			Data freshness.State[[]models.ServerSummary] `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("解析卡片 %s 失败: %w", key, err)
		}
		// 服务端自身也在使用演示数据时按空处理
		if body.Data.IsDemoFallback {
			return []models.ServerSummary{}, nil
		}
		return body.Data.Value, nil
	}
}

func renderServers(out io.Writer, format string, view freshness.State[[]models.ServerSummary]) error {
	if format != outputText {
		return writeStructured(out, format, view)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tNAMESPACE\tNAME\tROLE\tMODEL\tREADY\tPHASE")
	for _, s := range view.Value {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n", s.Cluster, s.Namespace, s.Name, s.Role, s.ModelName, s.Ready, s.Phase)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if view.IsDemoFallback {
		fmt.Fprintln(out, "(演示数据)")
	}
	return nil
}
