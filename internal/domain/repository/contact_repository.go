package repository

import (
	"context"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

// ContactRepository 联系人仓储接口
type ContactRepository interface {
	// Upsert creates the contact on first sight (unverified, trust 0) or
	// refreshes last-seen and backfills a missing display name. CreatedAt
	// is preserved across upserts.
	Upsert(ctx context.Context, phone, pushName string, platform entity.Platform) (*entity.Contact, error)

	// Update persists mutations from the tool layer and the profiling pass.
	Update(ctx context.Context, contact *entity.Contact) error

	Find(ctx context.Context, phone string) (*entity.Contact, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Contact, error)
	Count(ctx context.Context) (int64, error)
}
