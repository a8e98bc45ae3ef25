package repository

import (
	"context"
	"time"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

// MessageLogRepository 消息日志仓储接口（追加式，无删除）
type MessageLogRepository interface {
	Append(ctx context.Context, log *entity.MessageLog) error

	// History returns the most recent entries for one contact in
	// chronological order.
	History(ctx context.Context, phone string, limit int) ([]*entity.MessageLog, error)

	// Since returns entries for one contact created at or after t,
	// chronological. Used for per-session report slices.
	Since(ctx context.Context, phone string, t time.Time) ([]*entity.MessageLog, error)

	// Search matches content substrings for one contact (phone empty =
	// all contacts), newest first.
	Search(ctx context.Context, phone, query string, limit int) ([]*entity.MessageLog, error)

	// RecentContacts lists distinct contact addresses with activity since t,
	// most recent first.
	RecentContacts(ctx context.Context, t time.Time, limit int) ([]string, error)

	CountSince(ctx context.Context, t time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}
