package transport

import "context"

// InboundEvent 各传输层归一化后的入站消息
type InboundEvent struct {
	Address       string // 发送者地址（未归一化，可能是 owner 的备用标识）
	PushName      string // 协议层携带的显示名
	Text          string
	Platform      string // whatsapp, telegram
	MediaKind     string // text, image, audio, document, …
	Group         bool   // 群聊或广播
	FromSelf      bool   // 本账号自己发出的回显
	Undecryptable bool   // 密文无法解密
}

// LifecycleKind 传输层生命周期事件类型
type LifecycleKind string

const (
	LifecycleQRNeeded     LifecycleKind = "qr_needed"
	LifecycleConnected    LifecycleKind = "connected"
	LifecycleDisconnected LifecycleKind = "disconnected"
	// LifecycleFatal 会话不可恢复（冲突 / 登出 / 损坏），进程需要退出
	LifecycleFatal LifecycleKind = "fatal"
)

// LifecycleEvent 连接状态变化
type LifecycleEvent struct {
	Kind    LifecycleKind
	Payload string // QR 内容或断开原因
}

// Sender 窄发送接口。worker 只拿它回信，不触碰底层连接。
type Sender interface {
	SendText(ctx context.Context, address, text string) error
}

// Notifier 把消息送达 owner 的出口（报告、错误提示）
type Notifier interface {
	NotifyOwner(ctx context.Context, text string) error
}
