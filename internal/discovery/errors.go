package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ErrDiscoveryInProgress 已有发现周期在运行
var ErrDiscoveryInProgress = errors.New("发现周期正在运行")

// ErrorKind 子查询失败类别
type ErrorKind string

const (
	// KindUnreachable 集群网络不可达
	KindUnreachable ErrorKind = "unreachable"
	// KindNotServed 资源未在集群中注册（CRD 不存在）
	KindNotServed ErrorKind = "not-served"
	// KindFailed 其他失败
	KindFailed ErrorKind = "failed"
)

// QueryError 子查询错误
type QueryError struct {
	Cluster  string
	Resource string
	Kind     ErrorKind
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("集群 %s 查询 %s 失败(%s): %v", e.Cluster, e.Resource, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// unreachableMessages 无法结构化识别时按错误信息判断不可达
var unreachableMessages = []string{
	"timeout",
	"connection refused",
	"no such host",
	"deadline exceeded",
	"i/o timeout",
	"network is unreachable",
	"unable to connect to the server",
}

// ClassifyError 对执行器返回的错误分类
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var qe *QueryError
	if errors.As(err, &qe) && qe.Kind != "" {
		return qe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return KindUnreachable
	}
	if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) {
		return KindUnreachable
	}
	if apierrors.IsNotFound(err) {
		return KindNotServed
	}

	msg := strings.ToLower(err.Error())
	for _, m := range unreachableMessages {
		if strings.Contains(msg, m) {
			return KindUnreachable
		}
	}
	if strings.Contains(msg, "the server could not find the requested resource") {
		return KindNotServed
	}
	return KindFailed
}

// newQueryError 包装子查询错误
func newQueryError(cluster, resource string, err error) *QueryError {
	return &QueryError{
		Cluster:  cluster,
		Resource: resource,
		Kind:     ClassifyError(err),
		Err:      err,
	}
}
