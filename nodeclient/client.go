package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/LoveWonYoung/asebacan/driver"
	"github.com/LoveWonYoung/asebacan/tp"
)

// 轮询与缓存配置常量
const (
	recvPollInterval  = 2 * time.Millisecond // 接收轮询间隔
	defaultMaxRetries = 3                    // 默认最大重试次数
	maxPending        = 64                   // ReceiveFrom 暂存的其他节点消息上限
)

var (
	ErrClosed  = errors.New("nodeclient: client closed")
	ErrTimeout = errors.New("nodeclient: timed out waiting for a message")
)

// RequestOptions 请求配置选项
type RequestOptions struct {
	Timeout    time.Duration // 等待消息的超时 (0 表示只受 context 限制)
	MaxRetries int           // 帧池耗尽时的最大重试次数
	RetryDelay time.Duration // 重试间隔
}

// DefaultRequestOptions 返回默认请求选项
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		Timeout:    500 * time.Millisecond,
		MaxRetries: defaultMaxRetries,
		RetryDelay: 10 * time.Millisecond,
	}
}

// Stats combines the transport and adapter counters.
type Stats struct {
	Transport tp.Stats
	Adapter   driver.AdapterStats
}

// Client 是一个高级客户端，封装了驱动、适配器与传输层的初始化和连接，
// 并在传输层之上提供阻塞接收、重试发送与请求/应答。
type Client struct {
	stack   *tp.Transport
	adapter *driver.Adapter
	logger  *slog.Logger
	opts    RequestOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []tp.Message
}

// New 负责完成所有组件的初始化和连接：启动设备、创建传输层并开始收发。
func New(dev driver.CANDriver, id tp.NodeID, cfg tp.Config, adapterOpts ...driver.AdapterOption) (*Client, error) {
	adapter, err := driver.NewAdapter(dev, adapterOpts...)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: create adapter: %w", err)
	}
	stack, err := tp.New(id, adapter, cfg)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("nodeclient: create transport: %w", err)
	}
	if err := adapter.Start(stack); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("nodeclient: start adapter: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		stack:   stack,
		adapter: adapter,
		logger:  logger.With("node", int(id)),
		opts:    DefaultRequestOptions(),
		ctx:     ctx,
		cancel:  cancel,
	}

	// 监听传输层的丢弃原因
	if stack.ErrorChan != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-stack.ErrorChan:
					c.logger.Debug("transport drop", "error", err)
				}
			}
		}()
	}

	c.logger.Info("node client started", "max_send", stack.MaxSendSize())
	return c, nil
}

// SetOptions replaces the options used by Send, Receive and Request.
func (c *Client) SetOptions(opts RequestOptions) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

func (c *Client) options() RequestOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Send queues data for transmission. Only a full frame pool is retried;
// every other rejection is returned at once.
func (c *Client) Send(ctx context.Context, data []byte) error {
	return c.SendWithOptions(ctx, data, c.options())
}

func (c *Client) SendWithOptions(ctx context.Context, data []byte, opts RequestOptions) error {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("send retry", "attempt", attempt, "max", opts.MaxRetries, "size", len(data))
			if err := c.sleep(ctx, opts.RetryDelay); err != nil {
				return err
			}
		}
		if c.IsClosed() {
			return ErrClosed
		}

		err := c.stack.Send(data)
		if err == nil {
			return nil
		}
		var exhausted tp.PoolExhaustedError
		if !errors.As(err, &exhausted) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("达到最大重试次数 (%d): %w", opts.MaxRetries, lastErr)
}

// Flush waits until every queued frame has left the driver.
func (c *Client) Flush(ctx context.Context) error {
	ticker := time.NewTicker(recvPollInterval)
	defer ticker.Stop()
	for c.stack.TxPending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Receive waits for the next message from any node.
func (c *Client) Receive(ctx context.Context) (tp.Message, error) {
	return c.receive(ctx, nil, c.options().Timeout)
}

// ReceiveFrom waits for the next message from source. Messages from other
// nodes that arrive meanwhile are kept for later Receive calls.
func (c *Client) ReceiveFrom(ctx context.Context, source tp.NodeID) (tp.Message, error) {
	return c.receive(ctx, &source, c.options().Timeout)
}

// Request sends data and waits for the reply from source. Stale messages
// from source are discarded first.
func (c *Client) Request(ctx context.Context, data []byte, source tp.NodeID) ([]byte, error) {
	opts := c.options()
	c.discardFrom(source)
	if err := c.SendWithOptions(ctx, data, opts); err != nil {
		return nil, err
	}
	m, err := c.receive(ctx, &source, opts.Timeout)
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}

func (c *Client) receive(ctx context.Context, source *tp.NodeID, timeout time.Duration) (tp.Message, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(recvPollInterval)
	defer ticker.Stop()
	for {
		if m, ok := c.takePending(source); ok {
			return m, nil
		}
		for {
			m, ok := c.stack.RecvMessage()
			if !ok {
				break
			}
			if source == nil || m.Source == *source {
				return m, nil
			}
			c.keep(m)
		}

		select {
		case <-ctx.Done():
			return tp.Message{}, ctx.Err()
		case <-c.ctx.Done():
			return tp.Message{}, ErrClosed
		case <-deadline:
			return tp.Message{}, fmt.Errorf("等待消息超时 (%v): %w", timeout, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) takePending(source *tp.NodeID) (tp.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.pending {
		if source == nil || m.Source == *source {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return m, true
		}
	}
	return tp.Message{}, false
}

func (c *Client) keep(m tp.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == maxPending {
		c.logger.Warn("pending messages full, dropping oldest", "source", int(c.pending[0].Source))
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, m)
}

func (c *Client) discardFrom(source tp.NodeID) {
	for {
		m, ok := c.stack.RecvMessage()
		if !ok {
			break
		}
		if m.Source != source {
			c.keep(m)
		}
	}
	c.mu.Lock()
	kept := c.pending[:0]
	for _, m := range c.pending {
		if m.Source != source {
			kept = append(kept, m)
		}
	}
	c.pending = kept
	c.mu.Unlock()
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	case <-timer.C:
		return nil
	}
}

// Transport returns the underlying transport.
func (c *Client) Transport() *tp.Transport {
	return c.stack
}

func (c *Client) LocalID() tp.NodeID {
	return c.stack.LocalID()
}

func (c *Client) Stats() Stats {
	return Stats{Transport: c.stack.Stats(), Adapter: c.adapter.Stats()}
}

// Close 优雅地关闭客户端，释放所有资源。
func (c *Client) Close() {
	if c.IsClosed() {
		return
	}
	c.logger.Info("closing node client")
	c.cancel()
	c.wg.Wait()
	c.adapter.Close()
}

// IsClosed 检查客户端是否已关闭
func (c *Client) IsClosed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}
