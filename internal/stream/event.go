// Package stream 把分批推送的数据流适配为与新鲜度缓存一致的状态视图。
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType 流事件类型
type EventType string

const (
	EventBatch EventType = "batch"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// frameConnected 服务端握手帧，客户端忽略
const frameConnected = "connected"

// Event 流事件
type Event[T any] struct {
	Type    EventType
	Cluster string
	Items   []T
	Err     error
}

// Source 流事件来源，Open 返回的通道在流结束或 ctx 取消后关闭
type Source[T any] interface {
	Open(ctx context.Context) (<-chan Event[T], error)
}

// SourceFunc 函数形式的 Source
type SourceFunc[T any] func(ctx context.Context) (<-chan Event[T], error)

// Open 实现 Source
func (f SourceFunc[T]) Open(ctx context.Context) (<-chan Event[T], error) {
	return f(ctx)
}

// Frame 流的线上格式
type Frame struct {
	Type    string          `json:"type"`
	Cluster string          `json:"cluster,omitempty"`
	Items   json.RawMessage `json:"items,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ConnectedFrame 握手帧
func ConnectedFrame(message string) Frame {
	return Frame{Type: frameConnected, Message: message}
}

// BatchFrame 数据批次帧
func BatchFrame[T any](cluster string, items []T) (Frame, error) {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return Frame{}, fmt.Errorf("序列化批次失败: %w", err)
	}
	return Frame{Type: string(EventBatch), Cluster: cluster, Items: raw}, nil
}

// DoneFrame 结束帧
func DoneFrame(message string) Frame {
	return Frame{Type: string(EventDone), Message: message}
}

// ErrorFrame 错误帧
func ErrorFrame(message string) Frame {
	return Frame{Type: string(EventError), Message: message}
}

// DecodeFrame 把线上帧转换为事件，未知类型返回 false
func DecodeFrame[T any](f Frame) (Event[T], bool) {
	switch EventType(f.Type) {
	case EventBatch:
		var items []T
		if len(f.Items) > 0 {
			if err := json.Unmarshal(f.Items, &items); err != nil {
				return Event[T]{Type: EventError, Cluster: f.Cluster, Err: fmt.Errorf("批次数据格式错误: %w", err)}, true
			}
		}
		return Event[T]{Type: EventBatch, Cluster: f.Cluster, Items: items}, true
	case EventDone:
		return Event[T]{Type: EventDone}, true
	case EventError:
		msg := f.Message
		if msg == "" {
			msg = "stream error"
		}
		return Event[T]{Type: EventError, Cluster: f.Cluster, Err: errors.New(msg)}, true
	default:
		return Event[T]{}, false
	}
}
