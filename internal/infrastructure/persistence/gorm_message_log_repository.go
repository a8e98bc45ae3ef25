package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// GormMessageLogRepository GORM 实现的消息日志仓储（追加式）
type GormMessageLogRepository struct {
	db *gorm.DB
}

// NewGormMessageLogRepository 创建 GORM 消息日志仓储
func NewGormMessageLogRepository(db *gorm.DB) repository.MessageLogRepository {
	return &GormMessageLogRepository{db: db}
}

// Append 追加一条日志
func (r *GormMessageLogRepository) Append(ctx context.Context, log *entity.MessageLog) error {
	model := &models.MessageLogModel{
		ContactPhone: log.ContactPhone,
		Role:         string(log.Role),
		Content:      log.Content,
		MediaKind:    log.MediaKind,
		Platform:     string(log.Platform),
		CreatedAt:    log.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "message log append failed", err)
	}
	log.ID = model.ID
	return nil
}

// History 返回单个联系人最近 limit 条，按时间正序
func (r *GormMessageLogRepository) History(ctx context.Context, phone string, limit int) ([]*entity.MessageLog, error) {
	var rows []models.MessageLogModel
	// 先倒序取最近 N 条，再反转成时间线顺序
	err := r.db.WithContext(ctx).
		Where("contact_phone = ?", phone).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "history query failed", err)
	}

	logs := make([]*entity.MessageLog, len(rows))
	for i := range rows {
		logs[len(rows)-1-i] = logToEntity(&rows[i])
	}
	return logs, nil
}

// Since 返回单个联系人 t 之后的日志，按时间正序
func (r *GormMessageLogRepository) Since(ctx context.Context, phone string, t time.Time) ([]*entity.MessageLog, error) {
	var rows []models.MessageLogModel
	err := r.db.WithContext(ctx).
		Where("contact_phone = ? AND created_at >= ?", phone, t).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "since query failed", err)
	}
	return logsToEntities(rows), nil
}

// Search 子串匹配，phone 为空时跨全部联系人，按时间倒序
func (r *GormMessageLogRepository) Search(ctx context.Context, phone, query string, limit int) ([]*entity.MessageLog, error) {
	q := r.db.WithContext(ctx).
		Where("content LIKE ?", "%"+query+"%").
		Order("id desc").
		Limit(limit)
	if phone != "" {
		q = q.Where("contact_phone = ?", phone)
	}

	var rows []models.MessageLogModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "search query failed", err)
	}
	return logsToEntities(rows), nil
}

// RecentContacts 返回 t 之后有活动的联系人地址，按最近活动倒序
func (r *GormMessageLogRepository) RecentContacts(ctx context.Context, t time.Time, limit int) ([]string, error) {
	var phones []string
	err := r.db.WithContext(ctx).
		Model(&models.MessageLogModel{}).
		Where("created_at >= ?", t).
		Group("contact_phone").
		Order("max(id) desc").
		Limit(limit).
		Pluck("contact_phone", &phones).Error
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "recent contacts query failed", err)
	}
	return phones, nil
}

// CountSince 统计 t 之后的日志数量
func (r *GormMessageLogRepository) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageLogModel{}).
		Where("created_at >= ?", t).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "count query failed", err)
	}
	return count, nil
}

// Count 统计日志总数
func (r *GormMessageLogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MessageLogModel{}).Count(&count).Error; err != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "count query failed", err)
	}
	return count, nil
}

func logToEntity(m *models.MessageLogModel) *entity.MessageLog {
	return &entity.MessageLog{
		ID:           m.ID,
		ContactPhone: m.ContactPhone,
		Role:         entity.Role(m.Role),
		Content:      m.Content,
		MediaKind:    m.MediaKind,
		Platform:     entity.Platform(m.Platform),
		CreatedAt:    m.CreatedAt,
	}
}

func logsToEntities(rows []models.MessageLogModel) []*entity.MessageLog {
	logs := make([]*entity.MessageLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, logToEntity(&rows[i]))
	}
	return logs
}
