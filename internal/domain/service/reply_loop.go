package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

// EndSessionSentinel 模型输出里出现即终止会话，发出前剥掉
const EndSessionSentinel = "#END_SESSION#"

// toolDepthFallback 工具循环打满深度时的兜底回复
const toolDepthFallback = "I'm getting stuck on that one — let me check and get back to you."

const historyWindow = 50

// ReplyGateway 回复管线需要的模型网关能力
type ReplyGateway interface {
	GenerateReply(ctx context.Context, system string, history []llm.Message, tools []llm.ToolSpec) (*llm.ReplyResult, error)
	UpdateProfile(ctx context.Context, currentSummary, transcript string) (string, error)
	Idle() bool
	EarliestAvailable() time.Time
}

// ToolRunner 工具执行入口
type ToolRunner interface {
	Specs(isOwner bool) []llm.ToolSpec
	Run(ctx context.Context, name string, args map[string]interface{}, inv *domaintool.Invocation) string
}

// SessionEnder 哨兵触发的会话收尾
type SessionEnder interface {
	Touch(phone string)
	EndNow(ctx context.Context, phone string)
}

// ReplyPipeline 一个批次从租约到回信的完整处理。
// 工具调用以有限深度循环进行，结果文本拼回对话供模型继续；
// 限流类失败原样上抛让工作池延迟回队，非 owner 的联系人对此无感。
type ReplyPipeline struct {
	owner    config.OwnerConfig
	contacts repository.ContactRepository
	logs     repository.MessageLogRepository
	prompts  *PromptBuilder
	gateway  ReplyGateway
	tools    ToolRunner
	sender   transport.Sender
	notifier transport.Notifier
	sessions SessionEnder
	maxDepth int
	logger   *zap.Logger
}

// NewReplyPipeline 创建回复管线
func NewReplyPipeline(
	owner config.OwnerConfig,
	contacts repository.ContactRepository,
	logs repository.MessageLogRepository,
	prompts *PromptBuilder,
	gateway ReplyGateway,
	tools ToolRunner,
	sender transport.Sender,
	notifier transport.Notifier,
	sessions SessionEnder,
	maxDepth int,
	logger *zap.Logger,
) *ReplyPipeline {
	return &ReplyPipeline{
		owner:    owner,
		contacts: contacts,
		logs:     logs,
		prompts:  prompts,
		gateway:  gateway,
		tools:    tools,
		sender:   sender,
		notifier: notifier,
		sessions: sessions,
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// Process 工作池的批次处理函数
func (p *ReplyPipeline) Process(ctx context.Context, item *entity.QueueItem) error {
	phone := item.ContactPhone
	isOwner := p.owner.IsOwner(phone)

	contact, err := p.contacts.Find(ctx, phone)
	if err != nil {
		return err
	}

	system, err := p.prompts.Build(ctx, contact, isOwner, "")
	if err != nil {
		return err
	}

	history, err := p.loadHistory(ctx, phone)
	if err != nil {
		return err
	}

	inv := &domaintool.Invocation{Contact: contact, IsOwner: isOwner}
	specs := p.tools.Specs(isOwner)

	finalText, err := p.converse(ctx, system, history, specs, inv)
	if err != nil {
		return p.surfaceFailure(ctx, phone, isOwner, err)
	}

	endSession := strings.Contains(finalText, EndSessionSentinel)
	if endSession {
		finalText = strings.TrimSpace(strings.ReplaceAll(finalText, EndSessionSentinel, ""))
	}

	if finalText != "" {
		if err := p.sender.SendText(ctx, phone, finalText); err != nil {
			return domainErrors.Wrap(domainErrors.CodeTransportTransient, "reply send failed", err)
		}
		appendErr := p.logs.Append(ctx, &entity.MessageLog{
			ContactPhone: phone,
			Role:         entity.RoleAgent,
			Content:      finalText,
			Platform:     contact.Platform,
		})
		if appendErr != nil {
			p.logger.Error("agent 日志写入失败", zap.String("contact", phone), zap.Error(appendErr))
		}
	}

	if endSession {
		p.sessions.EndNow(ctx, phone)
	} else {
		p.sessions.Touch(phone)
	}

	if !isOwner && p.gateway.Idle() {
		p.scheduleProfiling(contact)
	}
	return nil
}

// converse 有限深度的工具循环
func (p *ReplyPipeline) converse(
	ctx context.Context,
	system string,
	history []llm.Message,
	specs []llm.ToolSpec,
	inv *domaintool.Invocation,
) (string, error) {
	resp, err := p.gateway.GenerateReply(ctx, system, history, specs)
	if err != nil {
		return "", err
	}

	for depth := 0; resp.Kind == llm.ReplyToolCall && depth < p.maxDepth; depth++ {
		p.logger.Debug("工具调用",
			zap.String("tool", resp.ToolName),
			zap.Int("depth", depth))

		out := p.tools.Run(ctx, resp.ToolName, resp.ToolArgs, inv)
		history = append(history,
			llm.Message{Role: "model", Content: fmt.Sprintf("[calling tool '%s']", resp.ToolName)},
			llm.Message{Role: "user", Content: fmt.Sprintf("[tool '%s' returned %s]", resp.ToolName, out)},
		)

		resp, err = p.gateway.GenerateReply(ctx, system, history, specs)
		if err != nil {
			return "", err
		}
	}

	if resp.Kind == llm.ReplyToolCall {
		// 深度耗尽也要给人话，不能沉默
		return toolDepthFallback, nil
	}
	return resp.Content, nil
}

// surfaceFailure 失败路径：非 owner 静默回队，owner 看到错误原文。
// 密钥耗尽时把可见性延迟到最早的密钥恢复时间。
func (p *ReplyPipeline) surfaceFailure(ctx context.Context, phone string, isOwner bool, err error) error {
	if isOwner && domainErrors.IsRequeueable(err) {
		note := "I hit a rate limit talking to the model, will retry shortly: " + err.Error()
		if sendErr := p.notifier.NotifyOwner(ctx, note); sendErr != nil {
			p.logger.Warn("owner 错误提示发送失败", zap.Error(sendErr))
		}
	}

	if domainErrors.IsAllKeysExhausted(err) {
		if earliest := p.gateway.EarliestAvailable(); !earliest.IsZero() {
			return &domainErrors.AppError{
				Code:       domainErrors.CodeAllKeysExhausted,
				Message:    "waiting for key pool recovery",
				RetryAfter: time.Until(earliest),
				Err:        err,
			}
		}
	}
	return err
}

func (p *ReplyPipeline) loadHistory(ctx context.Context, phone string) ([]llm.Message, error) {
	logs, err := p.logs.History(ctx, phone, historyWindow)
	if err != nil {
		return nil, err
	}

	history := make([]llm.Message, 0, len(logs))
	for _, log := range logs {
		role := "user"
		if log.Role == entity.RoleAgent {
			role = "model"
		}
		history = append(history, llm.Message{Role: role, Content: log.Content})
	}
	return history, nil
}

// scheduleProfiling 网关空闲时的后台画像增量更新
func (p *ReplyPipeline) scheduleProfiling(contact *entity.Contact) {
	safego.Go(p.logger, "profiling-pass", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		logs, err := p.logs.History(ctx, contact.Phone, 30)
		if err != nil || len(logs) == 0 {
			return
		}
		var sb strings.Builder
		for _, log := range logs {
			fmt.Fprintf(&sb, "%s: %s\n", log.Role, log.Content)
		}

		patch, err := p.gateway.UpdateProfile(ctx, contact.Summary, sb.String())
		if err != nil || patch == "" || patch == contact.Summary {
			return
		}

		contact.Summary = patch
		if err := p.contacts.Update(ctx, contact); err != nil {
			p.logger.Warn("画像更新写入失败", zap.String("contact", contact.Phone), zap.Error(err))
			return
		}
		p.logger.Info("联系人画像已更新", zap.String("contact", contact.Phone))
	})
}
