package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
	"github.com/nightdesk/nightdesk/internal/infrastructure/queue"
)

// QueueInspector 队列深度与采样历史的只读视图
type QueueInspector interface {
	Depth(ctx context.Context) (int64, error)
	RecentMetrics(ctx context.Context, limit int) ([]queue.MetricSample, error)
}

// PoolInspector 工作池只读视图
type PoolInspector interface {
	Size() int
	ErrorRate() float64
}

// GetSystemStatusTool 管线运行状态，仅 owner 可用
type GetSystemStatusTool struct {
	queue    QueueInspector
	pool     PoolInspector
	contacts repository.ContactRepository
	started  time.Time
}

// NewGetSystemStatusTool 创建系统状态工具
func NewGetSystemStatusTool(queue QueueInspector, pool PoolInspector, contacts repository.ContactRepository) *GetSystemStatusTool {
	return &GetSystemStatusTool{queue: queue, pool: pool, contacts: contacts, started: time.Now()}
}

func (t *GetSystemStatusTool) Name() string { return "get_system_status" }

func (t *GetSystemStatusTool) OwnerOnly() bool { return true }

func (t *GetSystemStatusTool) Description() string {
	return "Report pipeline health: queue depth, worker count, error rate and uptime."
}

func (t *GetSystemStatusTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *GetSystemStatusTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	depth, err := t.queue.Depth(ctx)
	if err != nil {
		return &Result{Error: "queue depth unavailable"}, err
	}
	contacts, err := t.contacts.Count(ctx)
	if err != nil {
		return &Result{Error: "contact count unavailable"}, err
	}

	status := fmt.Sprintf(
		"queue depth: %d | workers: %d | error rate: %.0f%% | contacts: %d | uptime: %s",
		depth, t.pool.Size(), t.pool.ErrorRate()*100, contacts,
		time.Since(t.started).Round(time.Second))
	return &Result{Result: status}, nil
}

// GetAnalyticsTool 消息量与队列负载统计，仅 owner 可用
type GetAnalyticsTool struct {
	logs     repository.MessageLogRepository
	contacts repository.ContactRepository
	queue    QueueInspector
}

// NewGetAnalyticsTool 创建统计工具
func NewGetAnalyticsTool(logs repository.MessageLogRepository, contacts repository.ContactRepository, queue QueueInspector) *GetAnalyticsTool {
	return &GetAnalyticsTool{logs: logs, contacts: contacts, queue: queue}
}

func (t *GetAnalyticsTool) Name() string { return "get_analytics" }

func (t *GetAnalyticsTool) OwnerOnly() bool { return true }

func (t *GetAnalyticsTool) Description() string {
	return "Message volume analytics over the last day, week and all time."
}

func (t *GetAnalyticsTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *GetAnalyticsTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	now := time.Now().UTC()

	day, err := t.logs.CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return &Result{Error: "analytics unavailable"}, err
	}
	week, err := t.logs.CountSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return &Result{Error: "analytics unavailable"}, err
	}
	total, err := t.logs.Count(ctx)
	if err != nil {
		return &Result{Error: "analytics unavailable"}, err
	}
	contacts, err := t.contacts.Count(ctx)
	if err != nil {
		return &Result{Error: "analytics unavailable"}, err
	}

	lines := []string{
		fmt.Sprintf("messages last 24h: %d", day),
		fmt.Sprintf("messages last 7d: %d", week),
		fmt.Sprintf("messages all time: %d", total),
		fmt.Sprintf("known contacts: %d", contacts),
	}

	// 并发控制器的采样历史，反映近期队列负载
	if samples, err := t.queue.RecentMetrics(ctx, 10); err == nil && len(samples) > 0 {
		var depthSum int64
		for _, s := range samples {
			depthSum += s.Depth
		}
		lines = append(lines, fmt.Sprintf(
			"queue depth: %d now, %d avg over last %d samples (%d workers)",
			samples[0].Depth, depthSum/int64(len(samples)), len(samples), samples[0].Workers))
	}

	return &Result{Result: strings.Join(lines, "\n")}, nil
}
