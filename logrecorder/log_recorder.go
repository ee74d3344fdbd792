package logrecorder

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRotation 是默认的日志轮换周期
const DefaultRotation = 10 * time.Minute

// NowString 返回 t 格式为 "20060102_1504" 的字符串
func NowString(t time.Time) string {
	return t.Format("20060102_1504")
}

// MakeDir 在 root 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(root string, t time.Time) (string, error) {
	dirName := fmt.Sprintf("%d_%02d_%02d", t.Year(), t.Month(), t.Day())
	fullPath := filepath.Join(root, dirName)
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("创建文件夹失败: %w", err)
	}
	return fullPath, nil
}

// Recorder 是按时间轮换的日志文件，实现 io.Writer。
// 每个周期写入 <root>/<日期>/<name><时间>.log。
type Recorder struct {
	mu     sync.Mutex
	root   string
	name   string
	every  time.Duration
	now    func() time.Time
	f      *os.File
	path   string
	opened time.Time
}

// New 创建日志目录并打开第一个日志文件，every <= 0 时不轮换
func New(root, name string, every time.Duration) (*Recorder, error) {
	r := &Recorder{root: root, name: name, every: every, now: time.Now}
	if err := r.rotate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) rotate() error {
	now := r.now()
	dir, err := MakeDir(r.root, now)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s%s.log", r.name, NowString(now)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	if r.f != nil {
		r.f.Close()
	}
	r.f, r.path, r.opened = f, path, now
	return nil
}

// Write 在周期到达时先轮换文件再写入。轮换失败时继续写旧文件。
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.every > 0 && r.now().Sub(r.opened) >= r.every {
		if err := r.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "日志轮换失败: %v\n", err)
		}
	}
	return r.f.Write(p)
}

// Path 返回当前日志文件路径
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// NewLogger 返回写入所有 w 的文本格式 slog.Logger
func NewLogger(level slog.Level, w ...io.Writer) *slog.Logger {
	var out io.Writer = io.Discard
	switch len(w) {
	case 0:
	case 1:
		out = w[0]
	default:
		out = io.MultiWriter(w...)
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
