package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clay-wangzhi/llmd-polaris/internal/config"
	"github.com/clay-wangzhi/llmd-polaris/internal/database"
	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/k8s"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/internal/services"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

type discoverOptions struct {
	Kubeconfig string
	Clusters   []string
}

// discoverResult 一次性发现的输出
type discoverResult struct {
	Stacks   []models.Stack             `json:"stacks"`
	Outcomes []discovery.ClusterOutcome `json:"outcomes"`
	Error    string                     `json:"error,omitempty"`
}

func newDiscoverCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &discoverOptions{}

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "对已配置的集群执行一次推理栈发现并输出结果",
		Long: `对已配置的集群执行一次完整的发现周期。

默认使用数据库中登记的集群（启动时同样会导入 KUBECONFIG 与 K8S_CLUSTERS_FILE）；
指定 --kubeconfig 时直接使用该文件中的全部 context，不访问数据库。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger.Init(rootOpts.logLevel(cfg.Log.Level))
			return runDiscover(cmd.Context(), cfg, opts, rootOpts.Output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Kubeconfig, "kubeconfig", "", "直接从 kubeconfig 读取集群")
	cmd.Flags().StringSliceVar(&opts.Clusters, "cluster", nil, "只发现指定集群（可重复）")
	return cmd
}

func runDiscover(parent context.Context, cfg *config.Config, opts *discoverOptions, format string, out io.Writer) error {
	var (
		source k8s.ClusterSource
		hooks  []discovery.Option
	)
	if opts.Kubeconfig != "" {
		clusters, err := k8s.LoadKubeconfigContexts(opts.Kubeconfig)
		if err != nil {
			return err
		}
		source = k8s.NewStaticSource(clusters)
	} else {
		db, err := database.Init(cfg.Database)
		if err != nil {
			return fmt.Errorf("数据库初始化失败: %w", err)
		}
		svc := services.NewClusterService(db)
		importConfiguredClusters(cfg, svc)
		source = svc
		hooks = append(hooks, discovery.WithOutcomeHook(svc.RecordOutcome))
	}

	mgr := k8s.NewClusterClientManager(source, k8s.WithRequestTimeout(cfg.K8s.RequestTimeout))
	defer mgr.Stop()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names := opts.Clusters
	if len(names) == 0 {
		var err error
		if names, err = mgr.ClusterNames(ctx); err != nil {
			return fmt.Errorf("获取集群列表失败: %w", err)
		}
	}
	if len(names) == 0 {
		return errors.New("没有可发现的集群")
	}

	engine := discovery.NewEngine(mgr, discovery.Config{
		QueryTimeout: cfg.Discovery.QueryTimeout,
		PodSelector:  cfg.Discovery.PodSelector,
	}, hooks...)

	outcomes, err := engine.Discover(ctx, names)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	result := discoverResult{
		Stacks:   engine.Stacks(),
		Outcomes: outcomes,
		Error:    engine.State().Error,
	}
	if err := renderDiscover(out, format, result); err != nil {
		return err
	}
	if result.Error != "" {
		return errors.New(result.Error)
	}
	return err
}

func renderDiscover(out io.Writer, format string, result discoverResult) error {
	if format != outputText {
		return writeStructured(out, format, result)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tNAMESPACE\tSTACK\tMODEL\tSTATUS\tREADY\tAUTOSCALER")
	for _, s := range result.Stacks {
		autoscaler := string(models.AutoscalerNone)
		if s.Autoscaler != nil {
			autoscaler = string(s.Autoscaler.Kind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			s.Cluster, s.Namespace, s.DisplayName, s.ModelName, s.Status, s.ReadyReplicas, s.TotalReplicas, autoscaler)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CLUSTER\tOUTCOME\tREASON\tSTACKS")
	for _, o := range result.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", o.Cluster, o.Outcome, o.Reason, o.Stacks)
	}
	return tw.Flush()
}
