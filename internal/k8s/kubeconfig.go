package k8s

import (
	"fmt"
	"os"
	"sort"

	"k8s.io/client-go/tools/clientcmd"

	"github.com/clay-wangzhi/llmd-polaris/internal/models"
)

// LoadKubeconfigContexts 读取 kubeconfig 文件，每个 context 生成一个集群定义
//
// 集群名取 context 名称，kubeconfig 原文随集群保存，连接时按 Context 选择。
func LoadKubeconfigContexts(path string) ([]models.Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取kubeconfig失败: %w", err)
	}
	return ParseKubeconfigContexts(data)
}

// ParseKubeconfigContexts 解析 kubeconfig 内容中的全部 context
func ParseKubeconfigContexts(data []byte) ([]models.Cluster, error) {
	raw, err := clientcmd.Load(data)
	if err != nil {
		return nil, fmt.Errorf("解析kubeconfig失败: %w", err)
	}

	names := make([]string, 0, len(raw.Contexts))
	for name := range raw.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)

	clusters := make([]models.Cluster, 0, len(names))
	for _, name := range names {
		ctx := raw.Contexts[name]
		server := ""
		if c, ok := raw.Clusters[ctx.Cluster]; ok {
			server = c.Server
		}
		clusters = append(clusters, models.Cluster{
			Name:          name,
			Context:       name,
			APIServer:     server,
			KubeconfigEnc: string(data),
			Status:        models.ClusterStatusUnknown,
		})
	}
	return clusters, nil
}

// StaticSource 固定集群列表，用于不连接数据库的一次性命令
type StaticSource struct {
	clusters []models.Cluster
}

// NewStaticSource 创建固定集群来源，保持传入顺序
func NewStaticSource(clusters []models.Cluster) *StaticSource {
	return &StaticSource{clusters: clusters}
}

// GetClusterByName 按名称查找集群
func (s *StaticSource) GetClusterByName(name string) (*models.Cluster, error) {
	for i := range s.clusters {
		if s.clusters[i].Name == name {
			c := s.clusters[i]
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
}

// ListClusterNames 返回全部集群名称
func (s *StaticSource) ListClusterNames() ([]string, error) {
	names := make([]string, 0, len(s.clusters))
	for _, c := range s.clusters {
		names = append(names, c.Name)
	}
	return names, nil
}
