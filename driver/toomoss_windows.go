//go:build windows

package driver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/LoveWonYoung/asebacan/tp"
	"golang.org/x/sys/windows"
)

const (
	toomossChannel   = 0
	toomossMsgBuffer = 1024                  // 消息缓冲区大小
	toomossInitDelay = 20 * time.Millisecond // 初始化延迟
)

// toomossDLLDir 返回与进程架构匹配的 DLL 目录
func toomossDLLDir() string {
	arch := "windows_x64"
	if runtime.GOARCH == "386" {
		arch = "windows_x86"
	}
	return filepath.Join(".", "DLLs", arch)
}

// Toomoss is a CANDriver for the Toomoss USB2XXX adapters, driven through
// USB2XXX.dll. Only classic 11-bit frames are sent and received.
type Toomoss struct {
	device
	bitrate   int
	handle    int32
	dll       *windows.LazyDLL
	closeOnce sync.Once
}

func NewToomoss(bitrate int, logger *slog.Logger) *Toomoss {
	t := &Toomoss{bitrate: bitrate}
	t.setup(logger)
	return t
}

func (t *Toomoss) call(name string, args ...uintptr) uintptr {
	r, _, _ := t.dll.NewProc(name).Call(args...)
	return r
}

func (t *Toomoss) Init() error {
	dir := toomossDLLDir()
	// USB2XXX.dll 依赖 libusb，需要先加载
	if err := windows.NewLazyDLL(filepath.Join(dir, "libusb-1.0.dll")).Load(); err != nil {
		return fmt.Errorf("toomoss: load libusb: %w", err)
	}
	t.dll = windows.NewLazyDLL(filepath.Join(dir, "USB2XXX.dll"))
	if err := t.dll.Load(); err != nil {
		return fmt.Errorf("toomoss: load USB2XXX: %w", err)
	}

	var handles [10]int32
	if n := t.call("USB_ScanDevice", uintptr(unsafe.Pointer(&handles[0]))); int32(n) <= 0 {
		return fmt.Errorf("toomoss: no device found")
	}
	t.handle = handles[0]
	if ok := t.call("USB_OpenDevice", uintptr(t.handle)); int32(ok) < 1 {
		return fmt.Errorf("toomoss: open device %d failed", t.handle)
	}

	cfg := toomossInitConfig{RetrySend: 1, ISOCRCEnable: 1, ResEnable: 1}
	speed := t.call("CANFD_GetCANSpeedArg", uintptr(t.handle), uintptr(unsafe.Pointer(&cfg)),
		uintptr(t.bitrate), uintptr(t.bitrate))
	initRet := t.call("CANFD_Init", uintptr(t.handle), toomossChannel, uintptr(unsafe.Pointer(&cfg)))
	startRet := t.call("CANFD_StartGetMsg", uintptr(t.handle), toomossChannel)
	time.Sleep(toomossInitDelay)
	if speed != 0 || initRet != 0 || startRet != 0 {
		t.call("USB_CloseDevice", uintptr(t.handle))
		return fmt.Errorf("toomoss: CAN初始化失败 (speed=%d init=%d start=%d)", int32(speed), int32(initRet), int32(startRet))
	}
	t.logger.Info("toomoss opened", "handle", t.handle, "bitrate", t.bitrate)
	return nil
}

func (t *Toomoss) Start() {
	if t.dll == nil {
		t.logger.Error("toomoss start before init")
		return
	}
	t.start(t.pollLoop)
}

func (t *Toomoss) Stop() {
	t.stop()
	t.closeOnce.Do(func() {
		if t.dll != nil {
			t.call("USB_CloseDevice", uintptr(t.handle))
		}
	})
}

func (t *Toomoss) Write(f tp.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !t.isRunning() {
		return ErrNotRunning
	}
	msgs := [1]toomossMsg{encodeToomossMsg(f)}
	sent := t.call("CANFD_SendMsg", uintptr(t.handle), toomossChannel, uintptr(unsafe.Pointer(&msgs[0])), 1)
	if int32(sent) != 1 {
		return fmt.Errorf("toomoss: send %s failed (%d)", f, int32(sent))
	}
	t.countWritten()
	return nil
}

func (t *Toomoss) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(PollingInterval)
	defer ticker.Stop()
	var buf [toomossMsgBuffer]toomossMsg
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := int32(t.call("CANFD_GetMsg", uintptr(t.handle), toomossChannel,
				uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf))))
			if n <= 0 {
				continue
			}
			for i := 0; i < int(n); i++ {
				f, ok := decodeToomossMsg(buf[i])
				if !ok {
					t.countSkipped()
					continue
				}
				if !t.deliver(f) {
					t.logger.Warn("警告: 接收通道已满，报文被丢弃", "frame", f.String())
				}
			}
		}
	}
}
