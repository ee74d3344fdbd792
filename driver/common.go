package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/LoveWonYoung/asebacan/tp"
)

// 缓冲区和轮询配置常量
const (
	RxChannelBufferSize = 1024                   // 接收通道缓冲区大小
	PollingInterval     = time.Millisecond       // 轮询间隔
	ReadTimeout         = 100 * time.Millisecond // 阻塞读的超时，保证 Stop 能及时生效
)

var (
	ErrNotRunning  = errors.New("driver: device not running")
	ErrUnsupported = errors.New("driver: backend not supported on this platform")
)

// CANDriver 定义了CAN驱动的统一接口。
// Start 之后接收到的标准帧从 RxChan 读出；Stop 之后 RxChan 被关闭，设备不可再次启动。
type CANDriver interface {
	Init() error
	Start()
	Stop()
	Write(f tp.Frame) error
	RxChan() <-chan tp.Frame
	Context() context.Context
}

// DeviceStats counts what a device did with frames.
type DeviceStats struct {
	Received   uint64
	Written    uint64
	RxOverruns uint64 // frames lost because RxChan was full
	Skipped    uint64 // extended, remote or malformed frames ignored
}

// device is the lifecycle shared by every backend: one receive goroutine
// feeding a buffered channel that is closed on Stop.
type device struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	rxChan  chan tp.Frame
	running bool
	stopped bool
	wg      sync.WaitGroup
	stats   DeviceStats
	logger  *slog.Logger
}

// setup prepares the channel and context. It must run before any other method.
func (d *device) setup(logger *slog.Logger) {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.rxChan = make(chan tp.Frame, RxChannelBufferSize)
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d.logger = logger
}

func (d *device) RxChan() <-chan tp.Frame {
	return d.rxChan
}

func (d *device) Context() context.Context {
	return d.ctx
}

func (d *device) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// start runs loop in its own goroutine. It reports false if the device was
// already started or stopped.
func (d *device) start(loop func(ctx context.Context)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return false
	}
	d.running = true
	if loop != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			loop(d.ctx)
		}()
	}
	return true
}

// stop cancels the receive loop, waits for it and closes RxChan.
func (d *device) stop() bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	wasRunning := d.running
	d.running = false
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	close(d.rxChan)
	return wasRunning
}

// deliver hands a received frame to RxChan without blocking. A full channel
// is an overrun, as on a real controller.
func (d *device) deliver(f tp.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return false
	}
	select {
	case d.rxChan <- f:
		d.stats.Received++
		return true
	default:
		d.stats.RxOverruns++
		return false
	}
}

func (d *device) countWritten() {
	d.mu.Lock()
	d.stats.Written++
	d.mu.Unlock()
}

func (d *device) countSkipped() {
	d.mu.Lock()
	d.stats.Skipped++
	d.mu.Unlock()
}

// Stats returns a snapshot of the device counters.
func (d *device) Stats() DeviceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
