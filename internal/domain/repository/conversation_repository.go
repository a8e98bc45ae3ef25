package repository

import (
	"context"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

// ConversationRepository 会话仓储接口。
// 不变量：每个联系人至多一行 status=active。
type ConversationRepository interface {
	// Active returns the contact's active session, or a NOT_FOUND error.
	Active(ctx context.Context, phone string) (*entity.Conversation, error)

	// Open returns the existing active session or inserts a new one.
	Open(ctx context.Context, phone string) (*entity.Conversation, error)

	// Complete transitions active → completed and stamps EndedAt.
	// The transition is terminal for the row.
	Complete(ctx context.Context, id string) error

	// Annotate backfills urgency and summary after analysis.
	Annotate(ctx context.Context, id string, urgency int, summary string) error

	Find(ctx context.Context, id string) (*entity.Conversation, error)
}
