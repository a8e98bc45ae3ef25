package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

// SessionTracker 按联系人维护会话静默计时器。
// 任一入站或出站消息都会重置计时器并保证存在 active 会话行；
// 计时器到点或模型给出结束哨兵时，会话转 completed 并排一条报告任务。
// 追踪器自己从不调用模型。
type SessionTracker struct {
	conversations repository.ConversationRepository
	contacts      repository.ContactRepository
	reports       repository.ReportRepository
	timeout       time.Duration
	logger        *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewSessionTracker 创建会话追踪器
func NewSessionTracker(
	conversations repository.ConversationRepository,
	contacts repository.ContactRepository,
	reports repository.ReportRepository,
	timeout time.Duration,
	logger *zap.Logger,
) *SessionTracker {
	return &SessionTracker{
		conversations: conversations,
		contacts:      contacts,
		reports:       reports,
		timeout:       timeout,
		logger:        logger,
		timers:        make(map[string]*time.Timer),
	}
}

// Touch 重置联系人的静默计时器，并保证存在 active 会话行
func (t *SessionTracker) Touch(phone string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if timer, ok := t.timers[phone]; ok {
		timer.Stop()
	}
	t.timers[phone] = time.AfterFunc(t.timeout, func() {
		t.expire(phone)
	})
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := t.conversations.Open(ctx, phone); err != nil {
		t.logger.Error("会话行维护失败", zap.String("contact", phone), zap.Error(err))
	}
}

// EndNow 模型给出结束哨兵时立即收尾，不等静默超时
func (t *SessionTracker) EndNow(ctx context.Context, phone string) {
	t.mu.Lock()
	if timer, ok := t.timers[phone]; ok {
		timer.Stop()
		delete(t.timers, phone)
	}
	t.mu.Unlock()

	t.complete(ctx, phone)
}

// Stop 停掉全部计时器。active 会话行留在库里，
// 下次进程启动后由新的触达或超时继续收尾。
func (t *SessionTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for phone, timer := range t.timers {
		timer.Stop()
		delete(t.timers, phone)
	}
}

// expire 静默超时回调
func (t *SessionTracker) expire(phone string) {
	t.mu.Lock()
	delete(t.timers, phone)
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	safego.Go(t.logger, "session-expire", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		t.complete(ctx, phone)
	})
}

// complete 会话转终态并排报告任务
func (t *SessionTracker) complete(ctx context.Context, phone string) {
	conv, err := t.conversations.Active(ctx, phone)
	if err != nil {
		if !domainErrors.IsNotFound(err) {
			t.logger.Error("会话查询失败", zap.String("contact", phone), zap.Error(err))
		}
		return
	}

	if err := t.conversations.Complete(ctx, conv.ID); err != nil {
		if domainErrors.IsNotFound(err) {
			return // 已被并发收尾
		}
		t.logger.Error("会话收尾失败", zap.String("conversation", conv.ID), zap.Error(err))
		return
	}

	displayName := phone
	if contact, err := t.contacts.Find(ctx, phone); err == nil {
		displayName = contact.BestName()
	}

	item := &entity.ReportItem{
		ContactPhone:      phone,
		DisplayName:       displayName,
		ConversationID:    conv.ID,
		LastUserMessageAt: time.Now().UTC(),
	}
	if err := t.reports.Enqueue(ctx, item); err != nil {
		t.logger.Error("报告任务入队失败", zap.String("contact", phone), zap.Error(err))
		return
	}

	t.logger.Info("会话结束，报告已排队",
		zap.String("contact", phone),
		zap.String("conversation", conv.ID))
}
