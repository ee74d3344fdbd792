/*
MaxMessageSize: 单条消息允许的最大长度（字节），同时决定重组槽和分发队列条目的缓冲区大小。
TxPoolFrames: 发送帧池的帧数；一条消息必须整体放入帧池，否则拒绝发送。
DispatchQueueLen: 已完成接收、等待应用读取的消息条数。
ReassemblySlots: 可同时进行多帧重组的源节点数。
ErrorChanSize: 接收侧丢弃原因的非阻塞通知通道容量（0 表示关闭）。
Logger: 结构化日志；nil 时丢弃。
*/
package tp

import (
	"fmt"
	"io"
	"log/slog"
)

const maxLengthHeader = 0xFFFF

// Config defines the resource budget of a Transport. Every buffer is
// allocated once, from these values, by New.
type Config struct {
	MaxMessageSize   int
	TxPoolFrames     int
	DispatchQueueLen int
	ReassemblySlots  int
	ErrorChanSize    int

	Logger *slog.Logger
}

// DefaultConfig returns a budget suited to a small bus of event-driven nodes.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   512,
		TxPoolFrames:     128,
		DispatchQueueLen: 8,
		ReassemblySlots:  8,
		ErrorChanSize:    16,
	}
}

// Validate checks if the configuration parameters are valid.
func (c *Config) Validate() error {
	if c.MaxMessageSize < MaxFrameData || c.MaxMessageSize > maxLengthHeader {
		return ConfigError{TransportError: NewTransportError(
			fmt.Sprintf("max message size must be between %d and %d, got %d", MaxFrameData, maxLengthHeader, c.MaxMessageSize))}
	}
	if c.TxPoolFrames < 2 {
		return ConfigError{TransportError: NewTransportError(
			fmt.Sprintf("tx pool needs at least 2 frames, got %d", c.TxPoolFrames))}
	}
	if c.DispatchQueueLen < 1 {
		return ConfigError{TransportError: NewTransportError("dispatch queue length must be positive")}
	}
	if c.ReassemblySlots < 1 {
		return ConfigError{TransportError: NewTransportError("at least one reassembly slot is required")}
	}
	if c.ErrorChanSize < 0 {
		return ConfigError{TransportError: NewTransportError("error channel size must not be negative")}
	}
	return nil
}

// MaxSendSize is the longest message Send accepts: bounded both by
// MaxMessageSize and by what the whole tx pool can hold.
func (c *Config) MaxSendSize() int {
	poolBound := FirstFrameCapacity + (c.TxPoolFrames-1)*MaxFrameData
	if poolBound < c.MaxMessageSize {
		return poolBound
	}
	return c.MaxMessageSize
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
