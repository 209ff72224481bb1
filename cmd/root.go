package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// 输出格式
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var validOutputs = []string{outputText, outputJSON, outputYAML}

// rootOptions 全部子命令共享的参数
type rootOptions struct {
	LogLevel string
	Output   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "llmd-polaris",
		Short: "llm-d 多集群推理栈看板后端",
		Long: `llmd-polaris 跨多个 Kubernetes 集群发现 llm-d 推理栈，
以带新鲜度标记的缓存、逐集群推送的数据流和本地快照为看板提供数据。`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validOutputs, opts.Output) {
				return fmt.Errorf("无效的输出格式 %q，可选 %v", opts.Output, validOutputs)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "日志级别 (debug|info|warn|error)，默认取 LOG_LEVEL")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", outputText, "输出格式 (text|json|yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDiscoverCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// logLevel 命令行参数优先于配置
func (o *rootOptions) logLevel(configured string) string {
	if o.LogLevel != "" {
		return o.LogLevel
	}
	return configured
}

// writeStructured 以 JSON 或 YAML 输出
func writeStructured(w io.Writer, format string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case outputYAML:
		data, err = yaml.Marshal(v)
	default:
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("序列化输出失败: %w", err)
	}
	_, err = w.Write(data)
	return err
}
