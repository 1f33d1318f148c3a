package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnrecognizedControl = errors.New("unrecognized control message")

// ControlType 控制消息的 type 字段
type ControlType string

const (
	ControlInterrupt ControlType = "interrupt"
)

// Control 远端控制消息的封闭变体：Interrupt 或 UnknownControl
type Control interface {
	ControlType() ControlType
	control()
}

// Interrupt 远端要求立即停止播放（用户插话）
type Interrupt struct{}

func (Interrupt) ControlType() ControlType { return ControlInterrupt }
func (Interrupt) control()                 {}

// UnknownControl 结构合法但类型未识别的消息，接收方应忽略
type UnknownControl struct {
	Type string
	Raw  json.RawMessage
}

func (u UnknownControl) ControlType() ControlType { return ControlType(u.Type) }
func (UnknownControl) control()                   {}

type envelope struct {
	Type string `json:"type"`
}

// ParseControl 解析文本控制消息。非 JSON 对象返回 ErrUnrecognizedControl，
// 未识别的类型返回 UnknownControl。
func ParseControl(data []byte) (Control, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedControl, err)
	}

	switch ControlType(env.Type) {
	case ControlInterrupt:
		return Interrupt{}, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownControl{Type: env.Type, Raw: raw}, nil
	}
}

// EncodeControl 序列化控制消息，UnknownControl 原样输出
func EncodeControl(msg Control) ([]byte, error) {
	if u, ok := msg.(UnknownControl); ok && len(u.Raw) > 0 {
		return u.Raw, nil
	}
	return json.Marshal(envelope{Type: string(msg.ControlType())})
}
