package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

const (
	reportIdleInterval = 5 * time.Second
	// 密钥池恢复等待上限，防止 EarliestAvailable 算出离谱的值
	reportWaitCap = 10 * time.Minute
)

// ReportGateway 报告流程需要的模型网关能力
type ReportGateway interface {
	AnalyzeConversation(ctx context.Context, transcript string) (*llm.ConversationAnalysis, error)
	GenerateReport(ctx context.Context, prompt string) (string, error)
	EarliestAvailable() time.Time
}

// ReportWorker 单消费者报告循环。
// 每次租一条：分析会话打紧急度、生成报告、送达 owner。
// 送达是尽力而为，生成失败才计重试。
type ReportWorker struct {
	reports       repository.ReportRepository
	conversations repository.ConversationRepository
	logs          repository.MessageLogRepository
	gateway       ReportGateway
	notifier      transport.Notifier
	maxRetries    int
	logger        *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReportWorker 创建报告消费者
func NewReportWorker(
	reports repository.ReportRepository,
	conversations repository.ConversationRepository,
	logs repository.MessageLogRepository,
	gateway ReportGateway,
	notifier transport.Notifier,
	maxRetries int,
	logger *zap.Logger,
) *ReportWorker {
	return &ReportWorker{
		reports:       reports,
		conversations: conversations,
		logs:          logs,
		gateway:       gateway,
		notifier:      notifier,
		maxRetries:    maxRetries,
		logger:        logger,
	}
}

// Start 启动消费循环
func (w *ReportWorker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	safego.Go(w.logger, "report-worker", func() {
		defer close(w.done)
		w.run(ctx)
	})
}

// Stop 停止消费循环
func (w *ReportWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *ReportWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := w.reports.Lease(ctx)
		if err != nil {
			if !domainErrors.IsNotFound(err) {
				w.logger.Error("报告租约出错", zap.Error(err))
			}
			if !sleepCtx(ctx, reportIdleInterval) {
				return
			}
			continue
		}

		w.process(ctx, item)
	}
}

func (w *ReportWorker) process(ctx context.Context, item *entity.ReportItem) {
	transcript, startedAt, err := w.loadTranscript(ctx, item)
	if err != nil {
		w.settle(ctx, item, err)
		return
	}
	if transcript == "" {
		// 空会话没什么可报告的
		if err := w.reports.Complete(ctx, item.ID); err != nil {
			w.logger.Error("空报告落盘失败", zap.String("report", item.ID), zap.Error(err))
		}
		return
	}

	analysis, err := w.gateway.AnalyzeConversation(ctx, transcript)
	if err != nil {
		w.settle(ctx, item, err)
		return
	}
	if item.ConversationID != "" {
		if err := w.conversations.Annotate(ctx, item.ConversationID, analysis.Urgency, analysis.Summary); err != nil {
			w.logger.Warn("会话标注失败", zap.String("conversation", item.ConversationID), zap.Error(err))
		}
	}

	prompt := fmt.Sprintf(
		"Contact: %s\nConversation started: %s\nUrgency: %d/10\nGist: %s\n\nTranscript:\n%s",
		item.DisplayName, startedAt.Format("Mon 2 Jan 15:04"), analysis.Urgency, analysis.Summary, transcript)
	report, err := w.gateway.GenerateReport(ctx, prompt)
	if err != nil {
		w.settle(ctx, item, err)
		return
	}

	// 送达尽力而为：owner 不在线不挡报告队列
	text := fmt.Sprintf("📋 %s — urgency %d/10\n\n%s", item.DisplayName, analysis.Urgency, report)
	if err := w.notifier.NotifyOwner(ctx, text); err != nil {
		w.logger.Warn("报告送达失败", zap.String("report", item.ID), zap.Error(err))
	}

	if err := w.reports.Complete(ctx, item.ID); err != nil {
		w.logger.Error("报告完成落盘失败", zap.String("report", item.ID), zap.Error(err))
		return
	}
	w.logger.Info("报告已送出",
		zap.String("contact", item.ContactPhone),
		zap.Int("urgency", analysis.Urgency))
}

// settle 失败路径：密钥耗尽不计重试等恢复，其余按重试预算收敛
func (w *ReportWorker) settle(ctx context.Context, item *entity.ReportItem, cause error) {
	if domainErrors.IsAllKeysExhausted(cause) {
		if err := w.reports.Release(ctx, item.ID); err != nil {
			w.logger.Error("报告释放失败", zap.String("report", item.ID), zap.Error(err))
		}
		wait := reportIdleInterval
		if earliest := w.gateway.EarliestAvailable(); !earliest.IsZero() {
			if until := time.Until(earliest); until > wait {
				wait = until
			}
		}
		if wait > reportWaitCap {
			wait = reportWaitCap
		}
		w.logger.Warn("密钥池耗尽，报告循环等待恢复", zap.Duration("wait", wait))
		sleepCtx(ctx, wait)
		return
	}

	w.logger.Warn("报告生成失败",
		zap.String("report", item.ID),
		zap.Int("retry", item.RetryCount),
		zap.Error(cause))
	if err := w.reports.Fail(ctx, item, cause.Error(), w.maxRetries); err != nil {
		w.logger.Error("报告失败落盘失败", zap.String("report", item.ID), zap.Error(err))
	}
}

func (w *ReportWorker) loadTranscript(ctx context.Context, item *entity.ReportItem) (string, time.Time, error) {
	startedAt := item.CreatedAt
	if item.ConversationID != "" {
		if conv, err := w.conversations.Find(ctx, item.ConversationID); err == nil {
			startedAt = conv.StartedAt
		}
	}

	logs, err := w.logs.Since(ctx, item.ContactPhone, startedAt)
	if err != nil {
		return "", startedAt, err
	}

	var sb strings.Builder
	for _, log := range logs {
		fmt.Fprintf(&sb, "%s: %s\n", log.Role, log.Content)
	}
	return strings.TrimSpace(sb.String()), startedAt, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
