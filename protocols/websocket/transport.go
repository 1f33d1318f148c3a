// protocols/websocket/transport.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

const (
	defaultSendQueue      = 32
	defaultWriteTimeout   = 5 * time.Second
	defaultHandshake      = 10 * time.Second
	closeHandshakeTimeout = time.Second
)

// Config 定义websocket特有的配置
type Config struct {
	URL              string
	AccessToken      string
	ProtocolVersion  int
	ClientID         string
	SessionID        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 表示不发送心跳
	SendQueue        int
}

type outbound struct {
	data    []byte
	msgType interfaces.MessageType
}

type WSProtocol struct {
	config Config
	logger *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	onFrame       func([]byte)
	onControl     func(interfaces.Control)
	onStateChange func(interfaces.ConnectionState)

	state     atomic.Int32
	sendChan  chan outbound
	closeChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
}

func NewWebSocketProtocol(config Config, logger *slog.Logger) (*WSProtocol, error) {
	if config.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	if config.SendQueue <= 0 {
		config.SendQueue = defaultSendQueue
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshake
	}
	if config.ProtocolVersion <= 0 {
		config.ProtocolVersion = 1
	}

	return &WSProtocol{
		config:    config,
		logger:    logger.With("transport", "websocket", "session_id", config.SessionID),
		sendChan:  make(chan outbound, config.SendQueue),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (p *WSProtocol) OnFrame(handler func(frame []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFrame = handler
}

func (p *WSProtocol) OnControl(handler func(msg interfaces.Control)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onControl = handler
}

func (p *WSProtocol) OnStateChange(handler func(state interfaces.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStateChange = handler
}

func (p *WSProtocol) State() interfaces.ConnectionState {
	return interfaces.ConnectionState(p.state.Load())
}

// Done 在连接进入 Closed 后关闭
func (p *WSProtocol) Done() <-chan struct{} {
	return p.done
}

func (p *WSProtocol) setState(s interfaces.ConnectionState) {
	old := interfaces.ConnectionState(p.state.Swap(int32(s)))
	if old != s {
		p.notifyState(old, s)
	}
}

// transition 仅当当前状态为 from 时切换到 to
func (p *WSProtocol) transition(from, to interfaces.ConnectionState) bool {
	if !p.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	p.notifyState(from, to)
	return true
}

func (p *WSProtocol) notifyState(from, to interfaces.ConnectionState) {
	p.logger.Info("Connection state changed", "from", from, "to", to)

	p.mu.Lock()
	handler := p.onStateChange
	p.mu.Unlock()
	if handler != nil {
		handler(to)
	}
}

func (p *WSProtocol) Connect(ctx context.Context) error {
	if !p.transition(interfaces.StateIdle, interfaces.StateConnecting) {
		return fmt.Errorf("%w: transport already used (state %s)", interfaces.ErrConnectionFailed, p.State())
	}

	headers := http.Header{}
	if p.config.AccessToken != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.AccessToken))
	}
	headers.Set("Protocol-Version", fmt.Sprintf("%d", p.config.ProtocolVersion))
	if p.config.ClientID != "" {
		headers.Set("Client-Id", p.config.ClientID)
	}
	if p.config.SessionID != "" {
		headers.Set("Session-Id", p.config.SessionID)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, p.config.URL, headers)
	if err != nil {
		p.shutdown()
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if !p.transition(interfaces.StateConnecting, interfaces.StateOpen) {
		_ = conn.Close()
		return fmt.Errorf("%w: closed while connecting", interfaces.ErrConnectionFailed)
	}

	if p.config.PingInterval > 0 {
		readWait := p.config.PingInterval * 2
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
	}

	go p.writePump(conn)
	go p.readPump(conn)
	return nil
}

// readPump 唯一的读协程：按到达顺序分发音频帧与控制消息
func (p *WSProtocol) readPump(conn *websocket.Conn) {
	defer p.shutdown()

	p.mu.Lock()
	onFrame, onControl := p.onFrame, p.onControl
	p.mu.Unlock()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !p.closing.Load() {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					p.logger.Info("Connection closed by remote", "error", err)
				} else {
					p.logger.Warn("Connection read failed", "error", err)
				}
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if onFrame != nil {
				onFrame(data)
			}
		case websocket.TextMessage:
			msg, err := interfaces.ParseControl(data)
			if err != nil {
				p.logger.Debug("Ignoring unparseable control message", "error", err, "raw_data", string(data))
				continue
			}
			if onControl != nil {
				onControl(msg)
			}
		}
	}
}

func (p *WSProtocol) writePump(conn *websocket.Conn) {
	var ping <-chan time.Time
	if p.config.PingInterval > 0 {
		ticker := time.NewTicker(p.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-p.closeChan:
			return
		case msg := <-p.sendChan:
			wsType := websocket.TextMessage
			if msg.msgType == interfaces.MsgBinary {
				wsType = websocket.BinaryMessage
			}
			_ = conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
			if err := conn.WriteMessage(wsType, msg.data); err != nil {
				p.logger.Warn("Connection write failed", "error", err)
				p.shutdown()
				return
			}
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.config.WriteTimeout)); err != nil {
				p.logger.Warn("Keepalive ping failed", "error", err)
				p.shutdown()
				return
			}
		}
	}
}

// Send 非阻塞地把一条消息放入有界发送队列。未连接返回 ErrNotConnected，
// 队列已满返回 ErrSendQueueFull，不会无限积压。
func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	if p.State() != interfaces.StateOpen {
		return interfaces.ErrNotConnected
	}

	select {
	case <-p.closeChan:
		return interfaces.ErrNotConnected
	default:
	}

	select {
	case p.sendChan <- outbound{data: data, msgType: msgType}:
		return nil
	default:
		return interfaces.ErrSendQueueFull
	}
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

// Close 发送关闭帧并断开连接，可重复调用
func (p *WSProtocol) Close() error {
	p.closing.Store(true)

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn != nil && p.State() == interfaces.StateOpen {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeHandshakeTimeout)); err != nil {
			p.logger.Debug("Failed to send close frame", "error", err)
		}
	}
	p.shutdown()
	return nil
}

func (p *WSProtocol) shutdown() {
	p.closeOnce.Do(func() {
		close(p.closeChan)

		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				p.logger.Debug("Failed to close connection", "error", err)
			}
		}

		p.setState(interfaces.StateClosed)
		close(p.done)
	})
}
