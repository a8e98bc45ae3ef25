package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
)

// ackPattern 免打扰的简短确认语，非 owner 发来时静默丢弃
var ackPattern = regexp.MustCompile(`(?i)^(ok|okay|thanks|lol|yes|no|👍|✅)\.?$`)

// decryptRecoveryThreshold 连续解密失败达到阈值后发恢复提示
const decryptRecoveryThreshold = 3

const decryptRecoveryMessage = "Sorry, I couldn't read your last few messages. Could you resend them?"

// QueueEnqueuer 入队出口
type QueueEnqueuer interface {
	Enqueue(ctx context.Context, item *entity.QueueItem) error
}

// SessionToucher 会话追踪器出口
type SessionToucher interface {
	Touch(phone string)
}

// Intake 入站过滤与批次组装。
// 丢掉群聊、广播、自回显和无文本事件；归一化 owner 的备用标识；
// 其余消息经去抖缓冲聚合后定优先级入队。
type Intake struct {
	owner    config.OwnerConfig
	contacts repository.ContactRepository
	logs     repository.MessageLogRepository
	queue    QueueEnqueuer
	sessions SessionToucher
	sender   transport.Sender
	logger   *zap.Logger

	buffer *DebounceBuffer

	mu              sync.Mutex
	decryptFailures map[string]int
	platforms       map[string]entity.Platform // 批次回查平台用
}

// NewIntake 创建入站管线前端
func NewIntake(
	owner config.OwnerConfig,
	contacts repository.ContactRepository,
	logs repository.MessageLogRepository,
	queue QueueEnqueuer,
	sessions SessionToucher,
	sender transport.Sender,
	window time.Duration,
	maxBuffer int,
	logger *zap.Logger,
) *Intake {
	in := &Intake{
		owner:           owner,
		contacts:        contacts,
		logs:            logs,
		queue:           queue,
		sessions:        sessions,
		sender:          sender,
		logger:          logger,
		decryptFailures: make(map[string]int),
		platforms:       make(map[string]entity.Platform),
	}
	in.buffer = NewDebounceBuffer(window, maxBuffer, in.flush, logger)
	return in
}

// HandleInbound 传输层回调入口
func (in *Intake) HandleInbound(ctx context.Context, ev *transport.InboundEvent) {
	if ev.Undecryptable {
		in.countDecryptFailure(ctx, ev.Address)
		return
	}

	if ev.FromSelf || ev.Group || isBroadcastAddress(ev.Address) {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	in.resetDecryptFailures(ev.Address)

	// owner 的备用标识归一化回规范地址，后续所有阶段只看一个身份
	phone := in.owner.Canonical(ev.Address)
	platform := entity.Platform(ev.Platform)

	if _, err := in.contacts.Upsert(ctx, phone, ev.PushName, platform); err != nil {
		in.logger.Error("联系人 upsert 失败", zap.String("contact", phone), zap.Error(err))
		return
	}

	in.mu.Lock()
	in.platforms[phone] = platform
	in.mu.Unlock()

	in.sessions.Touch(phone)
	in.buffer.Add(phone, text)
}

// Close 冲刷残留缓冲
func (in *Intake) Close() {
	in.buffer.Close()
}

// flush 去抖窗口收口：短路确认语、落日志、定优先级、入队
func (in *Intake) flush(phone string, messages []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	isOwner := in.owner.IsOwner(phone)
	batchText := strings.Join(messages, "\n")

	if !isOwner && ackPattern.MatchString(strings.TrimSpace(batchText)) {
		in.logger.Debug("确认语短路丢弃", zap.String("contact", phone))
		return
	}

	in.mu.Lock()
	platform := in.platforms[phone]
	in.mu.Unlock()

	// 先落日志再入队：日志是对话的持久记录，入队失败时消息留痕但
	// 该批次得不到回复；对方重发同内容时按内容哈希合并，不会重复入队
	for _, text := range messages {
		err := in.logs.Append(ctx, &entity.MessageLog{
			ContactPhone: phone,
			Role:         entity.RoleUser,
			Content:      text,
			Platform:     platform,
		})
		if err != nil {
			in.logger.Error("消息日志写入失败", zap.String("contact", phone), zap.Error(err))
		}
	}

	item := &entity.QueueItem{
		ContactPhone: phone,
		Messages:     messages,
		Priority:     in.priorityFor(ctx, phone, isOwner),
	}
	if err := in.queue.Enqueue(ctx, item); err != nil {
		in.logger.Error("批次入队失败", zap.String("contact", phone), zap.Error(err))
		return
	}

	in.logger.Info("批次入队",
		zap.String("contact", phone),
		zap.Int("messages", len(messages)),
		zap.Int("priority", int(item.Priority)))
}

// priorityFor owner 指令高优；未验证且名字可疑的联系人
// 需要尽快走身份确认，给最高优先级；其余按普通批次排队。
func (in *Intake) priorityFor(ctx context.Context, phone string, isOwner bool) entity.Priority {
	if isOwner {
		return entity.PriorityHigh
	}

	contact, err := in.contacts.Find(ctx, phone)
	if err != nil {
		return entity.PriorityNormal
	}
	if !contact.Verified && !IsValidName(contact.DisplayName) {
		return entity.PriorityCritical
	}
	return entity.PriorityNormal
}

func (in *Intake) countDecryptFailure(ctx context.Context, address string) {
	in.mu.Lock()
	in.decryptFailures[address]++
	count := in.decryptFailures[address]
	if count >= decryptRecoveryThreshold {
		in.decryptFailures[address] = 0
	}
	in.mu.Unlock()

	if count < decryptRecoveryThreshold {
		return
	}

	in.logger.Warn("连续解密失败，发送恢复提示",
		zap.String("contact", address),
		zap.Int("failures", count))
	if err := in.sender.SendText(ctx, address, decryptRecoveryMessage); err != nil {
		in.logger.Error("恢复提示发送失败", zap.String("contact", address), zap.Error(err))
	}
}

func (in *Intake) resetDecryptFailures(address string) {
	in.mu.Lock()
	delete(in.decryptFailures, address)
	in.mu.Unlock()
}

func isBroadcastAddress(address string) bool {
	return strings.Contains(address, "status@broadcast") ||
		strings.HasSuffix(address, "@broadcast") ||
		strings.HasSuffix(address, "@g.us")
}
