package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// GormConversationRepository GORM 实现的会话仓储
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建 GORM 会话仓储
func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &GormConversationRepository{db: db}
}

// Active 返回联系人的 active 会话
func (r *GormConversationRepository) Active(ctx context.Context, phone string) (*entity.Conversation, error) {
	var model models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("contact_phone = ? AND status = ?", phone, string(entity.SessionActive)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("no active conversation")
		}
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "active conversation lookup failed", err)
	}
	return conversationToEntity(&model), nil
}

// Open 返回已有 active 会话，不存在则插入新行。
// 事务内先查后插，保证每个联系人至多一行 active。
func (r *GormConversationRepository) Open(ctx context.Context, phone string) (*entity.Conversation, error) {
	var model models.ConversationModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("contact_phone = ? AND status = ?", phone, string(entity.SessionActive)).
			First(&model).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		model = models.ConversationModel{
			ID:           uuid.NewString(),
			ContactPhone: phone,
			Status:       string(entity.SessionActive),
			StartedAt:    time.Now().UTC(),
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "conversation open failed", err)
	}

	return conversationToEntity(&model), nil
}

// Complete active → completed，终态；已完成的行不再改动
func (r *GormConversationRepository) Complete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ? AND status = ?", id, string(entity.SessionActive)).
		Updates(map[string]interface{}{
			"status":   string(entity.SessionCompleted),
			"ended_at": now,
		})
	if result.Error != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "conversation complete failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("no active conversation to complete")
	}
	return nil
}

// Annotate 分析完成后回填紧急度与摘要
func (r *GormConversationRepository) Annotate(ctx context.Context, id string, urgency int, summary string) error {
	err := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"urgency": urgency,
			"summary": summary,
		}).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "conversation annotate failed", err)
	}
	return nil
}

// Find 按 ID 查找会话
func (r *GormConversationRepository) Find(ctx context.Context, id string) (*entity.Conversation, error) {
	var model models.ConversationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("conversation not found")
		}
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "conversation lookup failed", err)
	}
	return conversationToEntity(&model), nil
}

func conversationToEntity(m *models.ConversationModel) *entity.Conversation {
	return &entity.Conversation{
		ID:           m.ID,
		ContactPhone: m.ContactPhone,
		Status:       entity.SessionStatus(m.Status),
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
		Urgency:      m.Urgency,
		Summary:      m.Summary,
	}
}
