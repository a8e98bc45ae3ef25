package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// GormContactRepository GORM 实现的联系人仓储
type GormContactRepository struct {
	db *gorm.DB
}

// NewGormContactRepository 创建 GORM 联系人仓储
func NewGormContactRepository(db *gorm.DB) repository.ContactRepository {
	return &GormContactRepository{db: db}
}

// Upsert 首次见到即创建（未验证、信任 0），否则刷新 last-seen 并补全缺失显示名。
// CreatedAt 在重复 upsert 时保持不变。
func (r *GormContactRepository) Upsert(ctx context.Context, phone, pushName string, platform entity.Platform) (*entity.Contact, error) {
	var model models.ContactModel
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&model, "phone = ?", phone).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model = models.ContactModel{
				Phone:       phone,
				DisplayName: pushName,
				Verified:    false,
				TrustLevel:  0,
				Platform:    string(platform),
				CreatedAt:   now,
				LastSeenAt:  now,
			}
			return tx.Create(&model).Error
		}
		if err != nil {
			return err
		}

		model.LastSeenAt = now
		if model.DisplayName == "" && pushName != "" {
			model.DisplayName = pushName
		}
		return tx.Save(&model).Error
	})
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "contact upsert failed", err)
	}

	return contactToEntity(&model), nil
}

// Update 保存工具层和画像流程的变更
func (r *GormContactRepository) Update(ctx context.Context, contact *entity.Contact) error {
	model := contactToModel(contact)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "contact update failed", err)
	}
	return nil
}

// Find 按地址查找联系人
func (r *GormContactRepository) Find(ctx context.Context, phone string) (*entity.Contact, error) {
	var model models.ContactModel
	if err := r.db.WithContext(ctx).First(&model, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("contact not found")
		}
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "contact lookup failed", err)
	}
	return contactToEntity(&model), nil
}

// List 按最近活跃排序分页列出联系人
func (r *GormContactRepository) List(ctx context.Context, limit, offset int) ([]*entity.Contact, error) {
	var rows []models.ContactModel
	err := r.db.WithContext(ctx).
		Order("last_seen_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "contact list failed", err)
	}

	contacts := make([]*entity.Contact, 0, len(rows))
	for i := range rows {
		contacts = append(contacts, contactToEntity(&rows[i]))
	}
	return contacts, nil
}

// Count 统计联系人数量
func (r *GormContactRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ContactModel{}).Count(&count).Error; err != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "contact count failed", err)
	}
	return count, nil
}

// 转换方法

func contactToEntity(m *models.ContactModel) *entity.Contact {
	return &entity.Contact{
		Phone:         m.Phone,
		DisplayName:   m.DisplayName,
		ConfirmedName: m.ConfirmedName,
		Verified:      m.Verified,
		TrustLevel:    m.TrustLevel,
		Summary:       m.Summary,
		Platform:      entity.Platform(m.Platform),
		CreatedAt:     m.CreatedAt,
		LastSeenAt:    m.LastSeenAt,
	}
}

func contactToModel(c *entity.Contact) *models.ContactModel {
	return &models.ContactModel{
		Phone:         c.Phone,
		DisplayName:   c.DisplayName,
		ConfirmedName: c.ConfirmedName,
		Verified:      c.Verified,
		TrustLevel:    c.TrustLevel,
		Summary:       c.Summary,
		Platform:      string(c.Platform),
		CreatedAt:     c.CreatedAt,
		LastSeenAt:    c.LastSeenAt,
	}
}
