package models

import (
	"time"

	"gorm.io/gorm"
)

// 集群状态
const (
	ClusterStatusHealthy     = "healthy"
	ClusterStatusUnreachable = "unreachable"
	ClusterStatusDegraded    = "degraded"
	ClusterStatusUnknown     = "unknown"
)

// Cluster 集群模型
type Cluster struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Name          string         `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Context       string         `json:"context" gorm:"size:255"` // 导入来源的 kubeconfig context
	APIServer     string         `json:"api_server" gorm:"size:255"`
	KubeconfigEnc string         `json:"-" gorm:"type:text"` // 加密存储的 kubeconfig
	CAEnc         string         `json:"-" gorm:"type:text"` // 加密存储的 CA 证书
	SATokenEnc    string         `json:"-" gorm:"type:text"` // 加密存储的 SA Token
	Version       string         `json:"version" gorm:"size:50"`
	Status        string         `json:"status" gorm:"default:unknown;size:20"` // healthy, unreachable, degraded, unknown
	StatusReason  string         `json:"status_reason" gorm:"size:255"`
	Labels        string         `json:"labels" gorm:"type:json"` // JSON 格式存储标签
	LastHeartbeat *time.Time     `json:"last_heartbeat"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// ClusterSpec 集群文件中的单条集群定义
type ClusterSpec struct {
	Name       string            `json:"name"`
	Context    string            `json:"context,omitempty"`
	APIServer  string            `json:"apiServer,omitempty"`
	Kubeconfig string            `json:"kubeconfig,omitempty"`
	Token      string            `json:"token,omitempty"`
	CA         string            `json:"ca,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// ClusterFile 集群文件格式
type ClusterFile struct {
	Clusters []ClusterSpec `json:"clusters"`
}
