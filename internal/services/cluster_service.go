package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"sigs.k8s.io/yaml"

	"github.com/clay-wangzhi/llmd-polaris/internal/discovery"
	"github.com/clay-wangzhi/llmd-polaris/internal/k8s"
	"github.com/clay-wangzhi/llmd-polaris/internal/models"
	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"
)

// ImportResult 批量导入结果
type ImportResult struct {
	Imported []string `json:"imported"`
	Skipped  []string `json:"skipped"`
}

// ClusterService 集群服务
type ClusterService struct {
	db *gorm.DB
}

// NewClusterService 创建集群服务
func NewClusterService(db *gorm.DB) *ClusterService {
	return &ClusterService{db: db}
}

// CreateCluster 创建集群
func (s *ClusterService) CreateCluster(cluster *models.Cluster) error {
	// 确保 Labels 是有效的 JSON，避免 MySQL JSON 字段报错
	if cluster.Labels == "" || !json.Valid([]byte(cluster.Labels)) {
		cluster.Labels = "{}"
	}
	if cluster.Status == "" {
		cluster.Status = models.ClusterStatusUnknown
	}

	if err := s.db.Create(cluster).Error; err != nil {
		logger.Error("创建集群失败", "name", cluster.Name, "error", err)
		return fmt.Errorf("创建集群失败: %w", err)
	}

	logger.Info("集群创建成功", "id", cluster.ID, "name", cluster.Name)
	return nil
}

// ImportClusters 批量导入集群，已存在的名称跳过
func (s *ClusterService) ImportClusters(clusters []models.Cluster) (*ImportResult, error) {
	result := &ImportResult{Imported: []string{}, Skipped: []string{}}
	for i := range clusters {
		c := clusters[i]
		var count int64
		if err := s.db.Model(&models.Cluster{}).Where("name = ?", c.Name).Count(&count).Error; err != nil {
			return result, fmt.Errorf("查询集群失败: %w", err)
		}
		if count > 0 {
			result.Skipped = append(result.Skipped, c.Name)
			continue
		}
		if err := s.CreateCluster(&c); err != nil {
			return result, err
		}
		result.Imported = append(result.Imported, c.Name)
	}
	return result, nil
}

// ImportFromFile 从 YAML 集群文件导入
func (s *ClusterService) ImportFromFile(path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取集群文件失败: %w", err)
	}
	clusters, err := ParseClusterFile(data)
	if err != nil {
		return nil, err
	}
	return s.ImportClusters(clusters)
}

// ImportFromKubeconfig 将 kubeconfig 中的每个 context 导入为集群
func (s *ClusterService) ImportFromKubeconfig(path string) (*ImportResult, error) {
	clusters, err := k8s.LoadKubeconfigContexts(path)
	if err != nil {
		return nil, err
	}
	return s.ImportClusters(clusters)
}

// ParseClusterFile 解析 YAML 集群文件
func ParseClusterFile(data []byte) ([]models.Cluster, error) {
	var file models.ClusterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析集群文件失败: %w", err)
	}

	clusters := make([]models.Cluster, 0, len(file.Clusters))
	for i, spec := range file.Clusters {
		if spec.Name == "" {
			return nil, fmt.Errorf("第 %d 个集群缺少名称", i+1)
		}
		if spec.Kubeconfig == "" && spec.APIServer == "" {
			return nil, fmt.Errorf("集群 %s 缺少 kubeconfig 或 apiServer", spec.Name)
		}
		labels := "{}"
		if len(spec.Labels) > 0 {
			b, err := json.Marshal(spec.Labels)
			if err != nil {
				return nil, fmt.Errorf("序列化集群标签失败: %w", err)
			}
			labels = string(b)
		}
		clusters = append(clusters, models.Cluster{
			Name:          spec.Name,
			Context:       spec.Context,
			APIServer:     spec.APIServer,
			KubeconfigEnc: spec.Kubeconfig,
			SATokenEnc:    spec.Token,
			CAEnc:         spec.CA,
			Labels:        labels,
			Status:        models.ClusterStatusUnknown,
		})
	}
	return clusters, nil
}

// GetClusterByName 按名称获取集群
func (s *ClusterService) GetClusterByName(name string) (*models.Cluster, error) {
	var cluster models.Cluster
	if err := s.db.Where("name = ?", name).First(&cluster).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", k8s.ErrClusterNotFound, name)
		}
		return nil, fmt.Errorf("获取集群失败: %w", err)
	}
	return &cluster, nil
}

// ListClusters 获取所有集群
func (s *ClusterService) ListClusters() ([]*models.Cluster, error) {
	var clusters []*models.Cluster
	if err := s.db.Order("id").Find(&clusters).Error; err != nil {
		logger.Error("获取集群列表失败", "error", err)
		return nil, fmt.Errorf("获取集群列表失败: %w", err)
	}
	return clusters, nil
}

// ListClusterNames 按创建顺序返回集群名称
func (s *ClusterService) ListClusterNames() ([]string, error) {
	var names []string
	if err := s.db.Model(&models.Cluster{}).Order("id").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("获取集群列表失败: %w", err)
	}
	return names, nil
}

// UpdateClusterStatus 更新集群状态
func (s *ClusterService) UpdateClusterStatus(name, status, reason string) error {
	now := time.Now()
	result := s.db.Model(&models.Cluster{}).Where("name = ?", name).Updates(map[string]interface{}{
		"status":         status,
		"status_reason":  reason,
		"last_heartbeat": &now,
	})
	if result.Error != nil {
		return fmt.Errorf("更新集群状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", k8s.ErrClusterNotFound, name)
	}
	return nil
}

// RecordOutcome 根据发现结果回写集群状态，取消的周期不回写
func (s *ClusterService) RecordOutcome(out discovery.ClusterOutcome) {
	status, reason := StatusForOutcome(out)
	if status == "" {
		return
	}
	if err := s.UpdateClusterStatus(out.Cluster, status, reason); err != nil {
		logger.Warn("回写集群状态失败", "cluster", out.Cluster, "error", err)
	}
}

// StatusForOutcome 把发现结果映射为集群状态
func StatusForOutcome(out discovery.ClusterOutcome) (status, reason string) {
	reason = string(out.Reason)
	if len(out.Errors) > 0 {
		reason = out.Errors[0]
	}
	// status_reason 列长度 255
	if r := []rune(reason); len(r) > 255 {
		reason = string(r[:255])
	}
	switch {
	case out.Reason == discovery.ReasonCancelled:
		return "", ""
	case out.Outcome == discovery.OutcomeSkipped && out.Reason == discovery.ReasonUnreachable:
		return models.ClusterStatusUnreachable, reason
	case out.Outcome == discovery.OutcomeSkipped, out.Outcome == discovery.OutcomePartial:
		return models.ClusterStatusDegraded, reason
	default:
		return models.ClusterStatusHealthy, ""
	}
}

// DeleteCluster 删除集群
func (s *ClusterService) DeleteCluster(name string) error {
	result := s.db.Unscoped().Where("name = ?", name).Delete(&models.Cluster{})
	if result.Error != nil {
		return fmt.Errorf("删除集群失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", k8s.ErrClusterNotFound, name)
	}
	logger.Info("集群删除成功", "name", name)
	return nil
}
