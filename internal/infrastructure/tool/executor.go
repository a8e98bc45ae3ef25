package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
)

const executeTimeout = 30 * time.Second

// Executor 工具执行器。负责查找、owner 门禁和超时；
// 执行失败以文本形式拼回对话，让模型自己决定下一步。
type Executor struct {
	registry domaintool.Registry
	logger   *zap.Logger
}

// NewExecutor 创建工具执行器
func NewExecutor(registry domaintool.Registry, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Specs 调用方可见工具的模型侧声明
func (e *Executor) Specs(isOwner bool) []llm.ToolSpec {
	tools := e.registry.List(isOwner)
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return specs
}

// Run 执行一次工具调用，返回拼回对话的文本。
// 未知工具和越权调用都作为错误文本返回，不会中断回复循环。
func (e *Executor) Run(ctx context.Context, name string, args map[string]interface{}, inv *domaintool.Invocation) string {
	t, ok := e.registry.Get(name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	if t.OwnerOnly() && (inv == nil || !inv.IsOwner) {
		e.logger.Warn("非 owner 调用受限工具",
			zap.String("tool", name),
			zap.String("contact", contactPhone(inv)))
		return fmt.Sprintf("error: tool %q is not available", name)
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	result, err := t.Execute(execCtx, args, inv)
	if err != nil {
		e.logger.Error("工具执行出错",
			zap.String("tool", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	if result == nil {
		return "error: tool produced no result"
	}
	if result.Error != "" {
		return "error: " + result.Error
	}

	e.logger.Debug("工具执行完成",
		zap.String("tool", name),
		zap.Duration("elapsed", time.Since(start)))
	return renderResult(result.Result)
}

func renderResult(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "ok"
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

func contactPhone(inv *domaintool.Invocation) string {
	if inv == nil || inv.Contact == nil {
		return ""
	}
	return inv.Contact.Phone
}
