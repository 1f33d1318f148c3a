// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrNotConnected        = errors.New("not connected")
	ErrSendQueueFull       = errors.New("send queue full")
)

// TransportProtocol 双工消息通道：二进制音频帧与结构化控制消息共用一条连接。
// 处理器须在 Connect 之前注册，回调在单个读协程中按到达顺序触发。
// 一个实例只承载一次连接，Closed 是终态。
type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	OnFrame(handler func(frame []byte))
	OnControl(handler func(msg Control))
	OnStateChange(handler func(state ConnectionState))
	State() ConnectionState
	Done() <-chan struct{}
	Close() error
	ProtocolType() string
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON文本
	MsgBinary                     // 二进制数据（音频）
)

// ConnectionState 连接生命周期：Idle → Connecting → Open → Closed
type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
