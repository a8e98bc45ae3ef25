package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

const (
	// 重连退避参数：指数退避封顶 30s，连续 5 次失败放弃；
	// 连接存活超过 60s 视为稳定，失败计数清零
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
	reconnectMaxAttempts = 5
	stableSessionAfter   = 60 * time.Second

	writeTimeout = 10 * time.Second

	credentialCollection = "whatsapp-session"
)

// 对端宣告会话不可恢复的关闭码
const (
	closeCodeConflict         = "conflict"
	closeCodeCorruptedSession = "corrupted_session"
	closeCodeLoggedOut        = "logged_out"
)

// Config WhatsApp 适配器配置
type Config struct {
	URL         string
	SessionName string
}

// frame 线上 JSON 帧。对端是协议桥，这里只做帧级语义。
type frame struct {
	Type string `json:"type"` // message, qr, connected, disconnected, credentials, send

	// message 帧
	Address       string `json:"address,omitempty"`
	PushName      string `json:"push_name,omitempty"`
	Text          string `json:"text,omitempty"`
	MediaKind     string `json:"media_kind,omitempty"`
	Group         bool   `json:"group,omitempty"`
	FromSelf      bool   `json:"from_self,omitempty"`
	Undecryptable bool   `json:"undecryptable,omitempty"`

	// qr / disconnected 帧
	Payload string `json:"payload,omitempty"`
	Code    string `json:"code,omitempty"`

	// credentials 帧
	CredentialID string                 `json:"credential_id,omitempty"`
	Credential   map[string]interface{} `json:"credential,omitempty"`
}

// InboundHandler 入站消息回调
type InboundHandler func(ctx context.Context, ev *transport.InboundEvent)

// LifecycleHandler 生命周期事件回调
type LifecycleHandler func(ev transport.LifecycleEvent)

// Adapter 主传输层。对协议桥保持一条 websocket 长连接，
// 把帧翻译成统一的入站事件；断线按指数退避重连，
// 会话凭证的每次变更都落到凭证存储。
type Adapter struct {
	config    Config
	creds     repository.CredentialStore
	onInbound InboundHandler
	onEvent   LifecycleHandler
	logger    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	status  string // connecting, connected, disconnected, fatal
	lastQR  string
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter 创建 WhatsApp 适配器
func NewAdapter(config Config, creds repository.CredentialStore, logger *zap.Logger) *Adapter {
	return &Adapter{
		config: config,
		creds:  creds,
		logger: logger,
		status: "disconnected",
	}
}

// SetInboundHandler 设置入站消息回调
func (a *Adapter) SetInboundHandler(h InboundHandler) {
	a.onInbound = h
}

// SetLifecycleHandler 设置生命周期回调
func (a *Adapter) SetLifecycleHandler(h LifecycleHandler) {
	a.onEvent = h
}

// Start 启动连接循环
func (a *Adapter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	safego.Go(a.logger, "whatsapp-connect-loop", func() {
		defer close(a.done)
		a.connectLoop(ctx)
	})
}

// Stop 关闭连接并停止重连
func (a *Adapter) Stop() {
	a.mu.Lock()
	a.stopped = true
	conn := a.conn
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if a.done != nil {
		<-a.done
	}
}

// Status 当前连接状态与待扫码内容（给管理 API 用）
func (a *Adapter) Status() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, a.lastQR
}

// SendText 发送一条文本。连接不在时报 transient 让队列回队。
func (a *Adapter) SendText(ctx context.Context, address, text string) error {
	return a.writeFrame(&frame{Type: "send", Address: address, Text: text})
}

// Logout 通知对端登出并清空会话凭证。管理 API 的 disconnect 入口。
func (a *Adapter) Logout(ctx context.Context) error {
	// 尽力通知对端，发不出去也照样清凭证
	if err := a.writeFrame(&frame{Type: "logout"}); err != nil {
		a.logger.Warn("登出帧发送失败", zap.Error(err))
	}

	a.mu.Lock()
	a.stopped = true
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}

	return a.creds.Wipe(ctx, credentialCollection)
}

// connectLoop 带退避的连接维护循环
func (a *Adapter) connectLoop(ctx context.Context) {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a.setStatus("connecting", "")
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.config.URL, nil)
		if err != nil {
			attempts++
			if attempts >= reconnectMaxAttempts {
				a.logger.Error("重连次数耗尽", zap.Int("attempts", attempts))
				a.setStatus("fatal", "")
				a.emit(transport.LifecycleEvent{Kind: transport.LifecycleFatal, Payload: "reconnect attempts exhausted"})
				return
			}
			delay := backoffDelay(attempts)
			a.logger.Warn("连接失败，退避后重试",
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		a.mu.Lock()
		if a.stopped {
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.conn = conn
		a.mu.Unlock()

		connectedAt := time.Now()
		fatal := a.readLoop(ctx, conn)

		a.mu.Lock()
		a.conn = nil
		stopped := a.stopped
		a.mu.Unlock()

		if fatal || stopped || ctx.Err() != nil {
			return
		}

		// 稳定会话的断开不算失败
		if time.Since(connectedAt) > stableSessionAfter {
			attempts = 0
		} else {
			attempts++
			if attempts >= reconnectMaxAttempts {
				a.logger.Error("会话反复早断，放弃重连", zap.Int("attempts", attempts))
				a.setStatus("fatal", "")
				a.emit(transport.LifecycleEvent{Kind: transport.LifecycleFatal, Payload: "session keeps dropping"})
				return
			}
		}

		delay := backoffDelay(attempts)
		a.logger.Info("连接断开，准备重连", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// readLoop 消费一条连接上的帧直到断开。返回 true 表示会话不可恢复。
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.setStatus("disconnected", "")
			a.emit(transport.LifecycleEvent{Kind: transport.LifecycleDisconnected, Payload: err.Error()})
			return false
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			a.logger.Warn("无法解析的帧", zap.Error(err))
			continue
		}

		switch f.Type {
		case "message":
			if a.onInbound != nil {
				a.onInbound(ctx, &transport.InboundEvent{
					Address:       f.Address,
					PushName:      f.PushName,
					Text:          f.Text,
					Platform:      "whatsapp",
					MediaKind:     f.MediaKind,
					Group:         f.Group,
					FromSelf:      f.FromSelf,
					Undecryptable: f.Undecryptable,
				})
			}

		case "qr":
			a.setStatus("qr_needed", f.Payload)
			a.emit(transport.LifecycleEvent{Kind: transport.LifecycleQRNeeded, Payload: f.Payload})

		case "connected":
			a.setStatus("connected", "")
			a.emit(transport.LifecycleEvent{Kind: transport.LifecycleConnected})

		case "disconnected":
			if isFatalCode(f.Code) {
				a.handleFatal(ctx, f.Code)
				return true
			}
			a.setStatus("disconnected", "")
			a.emit(transport.LifecycleEvent{Kind: transport.LifecycleDisconnected, Payload: f.Code})

		case "credentials":
			a.persistCredential(ctx, f.CredentialID, f.Credential)

		default:
			a.logger.Debug("未知帧类型", zap.String("type", f.Type))
		}
	}
}

// handleFatal 会话不可恢复：清凭证并上报 fatal，由应用层退出进程
func (a *Adapter) handleFatal(ctx context.Context, code string) {
	a.logger.Error("会话不可恢复", zap.String("code", code))
	a.setStatus("fatal", "")

	wipeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.creds.Wipe(wipeCtx, credentialCollection); err != nil {
		a.logger.Error("凭证清除失败", zap.Error(err))
	}

	a.emit(transport.LifecycleEvent{Kind: transport.LifecycleFatal, Payload: code})
}

// persistCredential 会话密钥变更落库
func (a *Adapter) persistCredential(ctx context.Context, id string, value map[string]interface{}) {
	if id == "" || value == nil {
		return
	}
	if err := a.creds.Put(ctx, credentialCollection, id, value); err != nil {
		a.logger.Error("凭证写入失败", zap.String("credential", id), zap.Error(err))
		return
	}
	a.logger.Debug("会话凭证已更新", zap.String("credential", id))
}

func (a *Adapter) writeFrame(f *frame) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("whatsapp transport not connected")
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("whatsapp transport not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Adapter) setStatus(status, qr string) {
	a.mu.Lock()
	a.status = status
	a.lastQR = qr
	a.mu.Unlock()
}

func (a *Adapter) emit(ev transport.LifecycleEvent) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

func isFatalCode(code string) bool {
	switch code {
	case closeCodeConflict, closeCodeCorruptedSession, closeCodeLoggedOut:
		return true
	}
	return false
}

// backoffDelay 第 n 次失败后的等待时长
func backoffDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay << uint(attempt-1)
	if delay > reconnectMaxDelay || delay <= 0 {
		return reconnectMaxDelay
	}
	return delay
}
