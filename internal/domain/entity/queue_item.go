package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Priority 批次优先级，数值越小越先出队
type Priority int

const (
	PriorityCritical Priority = 0 // 身份验证提示
	PriorityHigh     Priority = 1 // owner 指令
	PriorityNormal   Priority = 2 // 普通用户批次
	PriorityLow      Priority = 3 // 后台画像任务
)

// QueueStatus 队列条目状态
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem 待处理批次的持久化记录。
// 不变量：status=processing 时恰有一个 worker 持有租约；
// 最多重试 MaxRetries 次；终态行保留一段 TTL 后清除。
type QueueItem struct {
	ID           string
	ContactPhone string
	Messages     []string // 原始消息文本，按到达顺序
	Priority     Priority
	Status       QueueStatus
	RetryCount   int
	WorkerID     string // 当前租约持有者
	LastError    string
	VisibleAt    time.Time // 延迟可见（限流重排队时后移）
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// BatchText joins the buffered messages with newlines in arrival order.
func (q *QueueItem) BatchText() string {
	return strings.Join(q.Messages, "\n")
}

// ContentHash fingerprints the batch for idempotent enqueue: re-enqueueing
// the same content for the same contact coalesces onto the pending row.
func (q *QueueItem) ContentHash() string {
	h := sha256.Sum256([]byte(q.ContactPhone + "\x00" + q.BatchText()))
	return hex.EncodeToString(h[:])
}
