package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketSource 通过 WebSocket 读取 Frame 的事件来源
type WebSocketSource[T any] struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// NewWebSocketSource 创建 WebSocket 来源
func NewWebSocketSource[T any](url string) *WebSocketSource[T] {
	return &WebSocketSource[T]{URL: url}
}

// Open 建立连接并开始读取
func (s *WebSocketSource[T]) Open(ctx context.Context) (<-chan Event[T], error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, s.URL, s.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("连接数据流失败: %w", err)
	}

	ch := make(chan Event[T])
	stop := make(chan struct{})

	// ctx 取消时关闭连接以中断阻塞的读取
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(ch)
		defer close(stop)
		defer func() {
			_ = conn.Close()
		}()

		emit := func(ev Event[T]) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				if ctx.Err() != nil || isClosure(err) {
					return
				}
				emit(Event[T]{Type: EventError, Err: fmt.Errorf("读取数据流失败: %w", err)})
				return
			}

			ev, ok := DecodeFrame[T](f)
			if !ok {
				continue
			}
			if !emit(ev) {
				return
			}
			if ev.Type != EventBatch {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()

	return ch, nil
}

// isClosure 连接被对端关闭
func isClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
