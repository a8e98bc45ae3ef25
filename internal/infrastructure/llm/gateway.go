package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

const (
	// minSpacingFloor 多密钥摊薄后的最小间隔下限
	minSpacingFloor = 500 * time.Millisecond

	callQueueCapacity = 64
)

// ReplyKind 回复类型
type ReplyKind string

const (
	ReplyText     ReplyKind = "text"
	ReplyToolCall ReplyKind = "tool_call"
)

// ReplyResult 一次回复生成的结果
type ReplyResult struct {
	Kind     ReplyKind
	Content  string
	ToolName string
	ToolArgs map[string]interface{}
}

// ConversationAnalysis 会话收尾分析
type ConversationAnalysis struct {
	Urgency int    `json:"urgency"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// profilePatch 画像更新的模型输出
type profilePatch struct {
	Update  bool   `json:"update"`
	Summary string `json:"summary"`
}

// Gateway 所有模型调用的单一入口。
// 调用经全局 FIFO 串行化，单消费者保证相邻调用之间的最小间隔；
// 单次调用内部做密钥轮转：限流冷却、凭证拒绝禁用、瞬态退避重试。
type Gateway struct {
	provider   Provider
	pool       *KeyPool
	logger     *zap.Logger
	model      string
	spacing    time.Duration
	retryDelay time.Duration
	timeout    time.Duration
	maxRetries int

	calls    chan *pendingCall
	inflight atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}
}

type pendingCall struct {
	ctx    context.Context
	req    *ProviderRequest
	result chan callResult
}

type callResult struct {
	resp *ProviderResponse
	err  error
}

// NewGateway 创建网关。最小间隔随密钥数量摊薄，但不低于下限。
func NewGateway(provider Provider, keys []string, cfg *config.LLMConfig, logger *zap.Logger) *Gateway {
	spacing := cfg.MinSpacing
	if n := len(keys); n > 1 {
		spacing = cfg.MinSpacing / time.Duration(n)
	}
	if spacing < minSpacingFloor {
		spacing = minSpacingFloor
	}

	return &Gateway{
		provider:   provider,
		pool:       NewKeyPool(keys, logger),
		logger:     logger,
		model:      cfg.Model,
		spacing:    spacing,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		calls:      make(chan *pendingCall, callQueueCapacity),
	}
}

// Start 启动消费循环
func (g *Gateway) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})

	safego.Go(g.logger, "llm-gateway", func() {
		defer close(g.done)
		g.consume(ctx)
	})
}

// Stop 停止消费循环，队列里未开始的调用收到取消错误
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
		<-g.done
	}
}

// Idle 网关当前是否空闲（无排队也无在途调用）。
// 后台画像任务只在空闲时调度，避免挤占用户回复。
func (g *Gateway) Idle() bool {
	return g.inflight.Load() == 0 && len(g.calls) == 0
}

// KeysAvailable 是否还有可用密钥
func (g *Gateway) KeysAvailable() bool {
	return !g.pool.Exhausted()
}

// EarliestAvailable 密钥池最早恢复时间
func (g *Gateway) EarliestAvailable() time.Time {
	return g.pool.EarliestAvailable()
}

// GenerateReply 生成一条回复，可能是文本也可能是一次工具调用
func (g *Gateway) GenerateReply(ctx context.Context, system string, history []Message, tools []ToolSpec) (*ReplyResult, error) {
	resp, err := g.submit(ctx, &ProviderRequest{
		Model:    g.model,
		System:   system,
		Messages: history,
		Tools:    tools,
	})
	if err != nil {
		return nil, err
	}

	if resp.ToolName != "" {
		return &ReplyResult{Kind: ReplyToolCall, ToolName: resp.ToolName, ToolArgs: resp.ToolArgs}, nil
	}
	return &ReplyResult{Kind: ReplyText, Content: strings.TrimSpace(resp.Text)}, nil
}

// AnalyzeConversation 为已结束的会话打紧急度并生成一句话摘要。
// 模型输出不可解析时退回保守默认值，报告流程不因此中断。
func (g *Gateway) AnalyzeConversation(ctx context.Context, transcript string) (*ConversationAnalysis, error) {
	system := "You analyze a finished chat conversation. Respond with JSON only: " +
		`{"urgency": 1-10, "status": "resolved"|"active", "summary": "one sentence"}`

	resp, err := g.submit(ctx, &ProviderRequest{
		Model:     g.model,
		System:    system,
		Messages:  []Message{{Role: "user", Content: transcript}},
		ForceJSON: true,
	})
	if err != nil {
		return nil, err
	}

	var analysis ConversationAnalysis
	if err := json.Unmarshal([]byte(stripJSONFences(resp.Text)), &analysis); err != nil {
		g.logger.Warn("会话分析输出不可解析，使用默认值", zap.Error(err))
		return &ConversationAnalysis{Urgency: 5, Status: "active"}, nil
	}
	if analysis.Urgency < 1 || analysis.Urgency > 10 {
		analysis.Urgency = 5
	}
	return &analysis, nil
}

// UpdateProfile 根据最近会话增量更新联系人画像摘要。
// 返回空串表示模型认为无需更新。
func (g *Gateway) UpdateProfile(ctx context.Context, currentSummary, transcript string) (string, error) {
	system := "You maintain a short profile summary of a chat contact. " +
		"Given the current summary and a recent conversation, respond with JSON only: " +
		`{"update": true|false, "summary": "revised summary"}. ` +
		"Set update to false when nothing new was learned."

	prompt := fmt.Sprintf("Current summary:\n%s\n\nRecent conversation:\n%s", currentSummary, transcript)
	resp, err := g.submit(ctx, &ProviderRequest{
		Model:     g.model,
		System:    system,
		Messages:  []Message{{Role: "user", Content: prompt}},
		ForceJSON: true,
	})
	if err != nil {
		return "", err
	}

	var patch profilePatch
	if err := json.Unmarshal([]byte(stripJSONFences(resp.Text)), &patch); err != nil {
		return "", domainErrors.Wrap(domainErrors.CodeParseFailure, "profile patch not parseable", err)
	}
	if !patch.Update {
		return "", nil
	}
	return strings.TrimSpace(patch.Summary), nil
}

// GenerateReport 生成发给 owner 的会话报告文本
func (g *Gateway) GenerateReport(ctx context.Context, prompt string) (string, error) {
	resp, err := g.submit(ctx, &ProviderRequest{
		Model:    g.model,
		System:   "You write a concise report for the owner about a conversation their assistant handled.",
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// submit 入队并等待结果
func (g *Gateway) submit(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	call := &pendingCall{ctx: ctx, req: req, result: make(chan callResult, 1)}

	select {
	case g.calls <- call:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-call.result:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) consume(ctx context.Context) {
	var lastDispatch time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case call := <-g.calls:
			// 调用方已放弃的直接跳过
			if call.ctx.Err() != nil {
				call.result <- callResult{err: call.ctx.Err()}
				continue
			}

			if wait := g.spacing - time.Since(lastDispatch); wait > 0 {
				select {
				case <-ctx.Done():
					call.result <- callResult{err: ctx.Err()}
					return
				case <-time.After(wait):
				}
			}
			lastDispatch = time.Now()

			g.inflight.Add(1)
			resp, err := g.execute(call.ctx, call.req)
			g.inflight.Add(-1)
			call.result <- callResult{resp: resp, err: err}
		}
	}
}

// execute 带密钥轮转的单次调用。
// 限流的密钥冷却后退避换下一个；过载不怪罪密钥，加倍间隔后用同一个重试；
// 凭证被拒永久禁用；其余错误不重试直接上抛。轮转预算耗尽返回密钥池耗尽。
func (g *Gateway) execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	var key string
	keepKey := false

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if !keepKey {
			var ok bool
			key, ok = g.pool.Next()
			if !ok {
				return nil, domainErrors.NewAllKeysExhausted("no api key currently available")
			}
		}
		keepKey = false
		req.APIKey = key

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.provider.Generate(callCtx, req)
		cancel()

		if err == nil {
			g.pool.MarkSuccess(key)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case isRateLimitedErr(err):
			retryAfter, _ := domainErrors.IsRateLimited(err)
			g.pool.Cooldown(key, retryAfter)
			g.logger.Warn("密钥被限流，换下一个",
				zap.Int("attempt", attempt+1),
				zap.Duration("cooldown", retryAfter))
			if !g.sleep(ctx, g.retryDelay) {
				return nil, ctx.Err()
			}
		case domainErrors.IsInvalidCredential(err):
			g.pool.Disable(key)
		case domainErrors.IsOverloaded(err):
			// 过载是上游的问题，同一密钥加倍间隔后重试
			g.logger.Warn("上游过载，加倍间隔重试", zap.Int("attempt", attempt+1))
			if !g.sleep(ctx, 2*g.spacing) {
				return nil, ctx.Err()
			}
			keepKey = true
		default:
			return nil, err
		}
	}

	return nil, domainErrors.NewAllKeysExhausted("rotation retry budget spent")
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func isRateLimitedErr(err error) bool {
	_, ok := domainErrors.IsRateLimited(err)
	return ok
}

// stripJSONFences 剥掉模型偶尔包上的 markdown 代码围栏
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
