package repository

import (
	"context"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

// ReportRepository report_queue 仓储接口
type ReportRepository interface {
	Enqueue(ctx context.Context, item *entity.ReportItem) error

	// Lease marks the oldest pending report as processing and returns it,
	// or a NOT_FOUND error when the queue is empty.
	Lease(ctx context.Context) (*entity.ReportItem, error)

	Complete(ctx context.Context, id string) error

	// Release puts a leased report back to pending without consuming a
	// retry. Used when the key pool is exhausted and the report should
	// simply wait for recovery.
	Release(ctx context.Context, id string) error

	// Fail re-queues the report or marks it failed once retries are spent.
	Fail(ctx context.Context, item *entity.ReportItem, cause string, maxRetries int) error

	PendingCount(ctx context.Context) (int64, error)
}
