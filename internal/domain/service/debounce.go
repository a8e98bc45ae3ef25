package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/pkg/safego"
)

// FlushFunc 接收一个发送者的完整批次（按到达顺序）
type FlushFunc func(phone string, messages []string)

// senderBuffer 单发送者的待冲刷缓冲
type senderBuffer struct {
	messages []string
	timer    *time.Timer
}

// DebounceBuffer 按发送者聚合快速连发的消息。
// 每条新消息重置静默计时器；计时器到点或缓冲打满时，
// 整个缓冲作为一个批次冲刷。同一发送者内保序，发送者之间互不影响。
type DebounceBuffer struct {
	window    time.Duration
	maxBuffer int
	flush     FlushFunc
	logger    *zap.Logger

	mu      sync.Mutex
	buffers map[string]*senderBuffer
	closed  bool
}

// NewDebounceBuffer 创建去抖缓冲
func NewDebounceBuffer(window time.Duration, maxBuffer int, flush FlushFunc, logger *zap.Logger) *DebounceBuffer {
	return &DebounceBuffer{
		window:    window,
		maxBuffer: maxBuffer,
		flush:     flush,
		logger:    logger,
		buffers:   make(map[string]*senderBuffer),
	}
}

// Add 追加一条消息。窗口内与上一条完全相同的文本去重
// （传输层 at-least-once 投递的兜底）。
func (d *DebounceBuffer) Add(phone, text string) {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return
	}

	buf, ok := d.buffers[phone]
	if !ok {
		buf = &senderBuffer{}
		d.buffers[phone] = buf
	}

	if n := len(buf.messages); n > 0 && buf.messages[n-1] == text {
		// 重复投递，只重置计时器
		d.rearm(phone, buf)
		d.mu.Unlock()
		return
	}

	buf.messages = append(buf.messages, text)

	if len(buf.messages) >= d.maxBuffer {
		messages := d.takeLocked(phone)
		d.mu.Unlock()
		d.emit(phone, messages)
		return
	}

	d.rearm(phone, buf)
	d.mu.Unlock()
}

// rearm 重置该发送者的静默计时器，调用方持锁
func (d *DebounceBuffer) rearm(phone string, buf *senderBuffer) {
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		messages := d.takeLocked(phone)
		d.mu.Unlock()
		d.emit(phone, messages)
	})
}

// takeLocked 摘下缓冲并停表，调用方持锁
func (d *DebounceBuffer) takeLocked(phone string) []string {
	buf, ok := d.buffers[phone]
	if !ok || len(buf.messages) == 0 {
		return nil
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	delete(d.buffers, phone)
	return buf.messages
}

func (d *DebounceBuffer) emit(phone string, messages []string) {
	if len(messages) == 0 {
		return
	}
	safego.Go(d.logger, "debounce-flush", func() {
		d.flush(phone, messages)
	})
}

// Close 停止接收新消息并同步冲刷全部残留缓冲
func (d *DebounceBuffer) Close() {
	d.mu.Lock()
	d.closed = true
	remaining := make(map[string][]string, len(d.buffers))
	for phone := range d.buffers {
		if messages := d.takeLocked(phone); len(messages) > 0 {
			remaining[phone] = messages
		}
	}
	d.mu.Unlock()

	for phone, messages := range remaining {
		d.flush(phone, messages)
	}
}
