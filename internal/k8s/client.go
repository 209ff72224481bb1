package k8s

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultTimeout REST 客户端默认超时
const DefaultTimeout = 30 * time.Second

// Client 单个集群的客户端集合
type Client struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	config    *rest.Config
}

// ClusterInfo 连接测试结果
type ClusterInfo struct {
	Version    string `json:"version"`
	NodeCount  int    `json:"nodeCount"`
	ReadyNodes int    `json:"readyNodes"`
	Status     string `json:"status"`
}

// NewClientFromKubeconfig 从 kubeconfig 内容创建客户端，contextName 为空时使用 current-context
func NewClientFromKubeconfig(kubeconfig, contextName string, timeout time.Duration) (*Client, error) {
	raw, err := clientcmd.Load([]byte(kubeconfig))
	if err != nil {
		return nil, fmt.Errorf("解析kubeconfig失败: %w", err)
	}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	config, err := clientcmd.NewNonInteractiveClientConfig(*raw, contextName, overrides, nil).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("构建 REST 配置失败: %w", err)
	}
	return newClient(config, timeout)
}

// NewClientFromToken 从 API Server 地址和 Token 创建客户端
func NewClientFromToken(apiServer, token, caCert string, timeout time.Duration) (*Client, error) {
	// 确保API Server地址格式正确
	if !strings.HasPrefix(apiServer, "http://") && !strings.HasPrefix(apiServer, "https://") {
		apiServer = "https://" + apiServer
	}

	config := &rest.Config{
		Host:        apiServer,
		BearerToken: token,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: true, // 未提供 CA 时跳过TLS验证
		},
	}

	if caCert != "" {
		// 先尝试base64解码，失败则按原始 PEM 使用
		caCertData, err := base64.StdEncoding.DecodeString(caCert)
		if err != nil {
			caCertData = []byte(caCert)
		}
		config.TLSClientConfig.CAData = caCertData
		config.TLSClientConfig.Insecure = false
	}

	return newClient(config, timeout)
}

func newClient(config *rest.Config, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	config.Timeout = timeout

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("创建kubernetes客户端失败: %w", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("创建dynamic客户端失败: %w", err)
	}
	return &Client{clientset: clientset, dynamic: dyn, config: config}, nil
}

// Clientset 返回 typed 客户端
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// Dynamic 返回 dynamic 客户端
func (c *Client) Dynamic() dynamic.Interface {
	return c.dynamic
}

// TestConnection 测试连接并统计节点就绪情况
func (c *Client) TestConnection(ctx context.Context) (*ClusterInfo, error) {
	version, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("连接失败，无法获取集群版本: %w", err)
	}

	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("权限不足，无法获取节点列表: %w", err)
	}

	ready := 0
	for _, node := range nodes.Items {
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady {
				if cond.Status == corev1.ConditionTrue {
					ready++
				}
				break
			}
		}
	}

	status := "healthy"
	switch {
	case len(nodes.Items) > 0 && ready == 0:
		status = "unhealthy"
	case ready < len(nodes.Items):
		status = "degraded"
	}

	return &ClusterInfo{
		Version:    version.String(),
		NodeCount:  len(nodes.Items),
		ReadyNodes: ready,
		Status:     status,
	}, nil
}

// AnalyzeConnectionError 分析连接错误并给出诊断提示
func AnalyzeConnectionError(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "unexpected EOF"):
		return "网络连接意外中断，请检查 API Server 地址、TLS 配置与防火墙"
	case strings.Contains(errStr, "connection refused"):
		return "连接被拒绝，API Server可能未运行或端口不正确"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded"):
		return "连接超时，请检查网络延迟与集群负载"
	case strings.Contains(errStr, "certificate"):
		return "TLS证书验证失败，请检查CA证书配置"
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "401"):
		return "认证失败，请检查Token或kubeconfig中的认证信息"
	case strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "403"):
		return "权限不足，当前用户没有访问该资源的权限"
	case strings.Contains(errStr, "no such host"):
		return "域名解析失败，请检查API Server地址是否正确"
	case strings.Contains(errStr, "network is unreachable"):
		return "网络不可达，请检查网络连接和路由配置"
	default:
		return "未知连接错误，请检查网络连接和集群配置"
	}
}
