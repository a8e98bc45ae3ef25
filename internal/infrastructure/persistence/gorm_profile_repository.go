package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// singletonID ai_profile / user_profile 单例行主键
const singletonID = 1

// GormProfileRepository GORM 实现的配置单例仓储
type GormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository 创建 GORM 配置仓储
func NewGormProfileRepository(db *gorm.DB) repository.ProfileRepository {
	return &GormProfileRepository{db: db}
}

// AIProfile 读取 ai_profile；行不存在时返回零值配置
func (r *GormProfileRepository) AIProfile(ctx context.Context) (*entity.AIProfile, error) {
	var model models.AIProfileModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &entity.AIProfile{}, nil
	}
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "ai profile read failed", err)
	}
	return &entity.AIProfile{
		Name:           model.Name,
		Role:           model.Role,
		Traits:         model.Traits,
		SystemPrompt:   model.SystemPrompt,
		Instructions:   model.Instructions,
		Greeting:       model.Greeting,
		ResponseLength: model.ResponseLength,
	}, nil
}

// SaveAIProfile 幂等 upsert
func (r *GormProfileRepository) SaveAIProfile(ctx context.Context, p *entity.AIProfile) error {
	model := models.AIProfileModel{
		ID:             singletonID,
		Name:           p.Name,
		Role:           p.Role,
		Traits:         p.Traits,
		SystemPrompt:   p.SystemPrompt,
		Instructions:   p.Instructions,
		Greeting:       p.Greeting,
		ResponseLength: p.ResponseLength,
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "ai profile save failed", err)
	}
	return nil
}

// UserProfile 读取 user_profile；行不存在时返回零值配置
func (r *GormProfileRepository) UserProfile(ctx context.Context) (*entity.UserProfile, error) {
	var model models.UserProfileModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &entity.UserProfile{}, nil
	}
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "user profile read failed", err)
	}
	return &entity.UserProfile{
		Name:         model.Name,
		Timezone:     model.Timezone,
		Occupation:   model.Occupation,
		Availability: model.Availability,
		Notes:        model.Notes,
	}, nil
}

// SaveUserProfile 幂等 upsert
func (r *GormProfileRepository) SaveUserProfile(ctx context.Context, p *entity.UserProfile) error {
	model := models.UserProfileModel{
		ID:           singletonID,
		Name:         p.Name,
		Timezone:     p.Timezone,
		Occupation:   p.Occupation,
		Availability: p.Availability,
		Notes:        p.Notes,
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "user profile save failed", err)
	}
	return nil
}
