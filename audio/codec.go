package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnknownEncoding = errors.New("unknown audio encoding")
)

// 支持的线上编码
const (
	EncodingPCM16   = "pcm16"
	EncodingFloat32 = "float32"
	EncodingOpus    = "opus"
)

const fullScale = 32768.0

// NewCodec 根据编码名称创建编解码器
func NewCodec(encoding string, sampleRate int, logger *slog.Logger) (FrameCodec, error) {
	switch encoding {
	case EncodingPCM16, "":
		return PCM16Codec{}, nil
	case EncodingFloat32:
		return Float32Codec{}, nil
	case EncodingOpus:
		return NewOpusCodec(sampleRate, 1, defaultOpusBitrate, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

// PCM16Codec 16位有符号小端定点 PCM
type PCM16Codec struct{}

func (PCM16Codec) Name() string { return EncodingPCM16 }

func (PCM16Codec) Decode(data []byte) ([]float32, error) {
	return DecodePCM16(data)
}

func (PCM16Codec) Encode(samples []float32) ([]byte, error) {
	return EncodePCM16(samples), nil
}

// DecodePCM16 将 int16 LE 字节转换为 [-1, 1) 范围的浮点采样
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 2", ErrMalformedFrame, len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		s := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(s) / fullScale
	}
	return out, nil
}

// EncodePCM16 将浮点采样量化为 int16 LE，超出范围的值被截断
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * fullScale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Float32Codec 原样传输 32 位浮点小端采样
type Float32Codec struct{}

func (Float32Codec) Name() string { return EncodingFloat32 }

func (Float32Codec) Decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", ErrMalformedFrame, len(data))
	}
	return bytesToFloat32(data), nil
}

func (Float32Codec) Encode(samples []float32) ([]byte, error) {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out, nil
}

// bytesToFloat32 将 float32 LE 字节转换为采样，忽略末尾不完整的采样
func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
