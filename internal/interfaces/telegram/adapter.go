package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

const pollTimeoutSeconds = 60

// Config Telegram 适配器配置
type Config struct {
	BotToken    string
	OwnerChatID int64
}

// Adapter 次传输层。长轮询收私聊消息，出站统一渲染成
// Telegram 安全的 HTML，超长消息按边界分块。
// 地址即 chat id 的十进制字符串。
type Adapter struct {
	bot       *tgbotapi.BotAPI
	config    Config
	onInbound InboundHandler
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// InboundHandler 入站消息回调
type InboundHandler func(ctx context.Context, ev *transport.InboundEvent)

// NewAdapter 创建 Telegram 适配器
func NewAdapter(config Config, logger *zap.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	return &Adapter{
		bot:    bot,
		config: config,
		logger: logger,
	}, nil
}

// SetInboundHandler 设置入站消息回调
func (a *Adapter) SetInboundHandler(h InboundHandler) {
	a.onInbound = h
}

// Start 启动轮询
func (a *Adapter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := a.bot.GetUpdatesChan(u)

	a.logger.Info("Starting Telegram polling")

	safego.Go(a.logger, "telegram-poll", func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				a.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				a.handleUpdate(ctx, update)
			}
		}
	})
}

// Stop 停止轮询
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

// Connected 是否已通过 Bot API 认证（给管理 API 用）
func (a *Adapter) Connected() bool {
	return a.bot != nil
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || a.onInbound == nil {
		return
	}

	ev := &transport.InboundEvent{
		Address:   strconv.FormatInt(msg.Chat.ID, 10),
		PushName:  strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Text:      msg.Text,
		Platform:  "telegram",
		MediaKind: mediaKind(msg),
		Group:     msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() || msg.Chat.IsChannel(),
		FromSelf:  msg.From.ID == a.bot.Self.ID,
	}
	a.onInbound(ctx, ev)
}

// SendText 发送文本。先走 HTML 渲染，被拒则退回纯文本。
func (a *Adapter) SendText(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram address %q: %w", address, err)
	}
	return a.send(chatID, text)
}

// NotifyOwner 送达 owner 的专用出口
func (a *Adapter) NotifyOwner(ctx context.Context, text string) error {
	if a.config.OwnerChatID == 0 {
		return fmt.Errorf("telegram owner_chat_id not configured")
	}
	return a.send(a.config.OwnerChatID, text)
}

func (a *Adapter) send(chatID int64, text string) error {
	for _, chunk := range ChunkMessage(MarkdownToTelegramHTML(text)) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := a.bot.Send(msg); err == nil {
			continue
		}

		// HTML 被 Bot API 拒绝时退回纯文本，消息不能丢
		plain := tgbotapi.NewMessage(chatID, StripFormatting(text))
		if _, err := a.bot.Send(plain); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}
	return nil
}

func mediaKind(msg *tgbotapi.Message) string {
	switch {
	case len(msg.Photo) > 0:
		return "image"
	case msg.Voice != nil || msg.Audio != nil:
		return "audio"
	case msg.Document != nil:
		return "document"
	case msg.Video != nil:
		return "video"
	default:
		return "text"
	}
}
