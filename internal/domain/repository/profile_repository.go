package repository

import (
	"context"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

// ProfileRepository ai_profile / user_profile 单例行仓储
type ProfileRepository interface {
	AIProfile(ctx context.Context) (*entity.AIProfile, error)
	SaveAIProfile(ctx context.Context, p *entity.AIProfile) error
	UserProfile(ctx context.Context) (*entity.UserProfile, error)
	SaveUserProfile(ctx context.Context, p *entity.UserProfile) error
}
