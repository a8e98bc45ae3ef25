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

// GormReportRepository GORM 实现的报告队列仓储
type GormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository 创建 GORM 报告队列仓储
func NewGormReportRepository(db *gorm.DB) repository.ReportRepository {
	return &GormReportRepository{db: db}
}

// Enqueue 入队一条报告任务
func (r *GormReportRepository) Enqueue(ctx context.Context, item *entity.ReportItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Status = entity.QueuePending

	model := reportToModel(item)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "report enqueue failed", err)
	}
	return nil
}

// Lease 取出最老的 pending 报告并标记为 processing。
// 单消费者场景下事务内先查后改即可。
func (r *GormReportRepository) Lease(ctx context.Context) (*entity.ReportItem, error) {
	var model models.ReportItemModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("status = ?", string(entity.QueuePending)).
			Order("created_at asc").
			First(&model).Error
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		model.Status = string(entity.QueueProcessing)
		model.LastAttemptAt = &now
		return tx.Save(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("report queue empty")
		}
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "report lease failed", err)
	}

	return reportToEntity(&model), nil
}

// Complete 报告发送成功，终态
func (r *GormReportRepository) Complete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Model(&models.ReportItemModel{}).
		Where("id = ?", id).
		Update("status", string(entity.QueueCompleted)).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "report complete failed", err)
	}
	return nil
}

// Release 不计重试放回 pending（密钥池耗尽时等待恢复）
func (r *GormReportRepository) Release(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Model(&models.ReportItemModel{}).
		Where("id = ?", id).
		Update("status", string(entity.QueuePending)).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "report release failed", err)
	}
	return nil
}

// Fail 重试次数未耗尽回到 pending，否则标记 failed
func (r *GormReportRepository) Fail(ctx context.Context, item *entity.ReportItem, cause string, maxRetries int) error {
	item.RetryCount++
	item.LastError = cause

	status := string(entity.QueuePending)
	if item.RetryCount >= maxRetries {
		status = string(entity.QueueFailed)
	}

	err := r.db.WithContext(ctx).
		Model(&models.ReportItemModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":      status,
			"retry_count": item.RetryCount,
			"last_error":  cause,
		}).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "report fail update failed", err)
	}
	item.Status = entity.QueueStatus(status)
	return nil
}

// PendingCount 统计待处理报告数量
func (r *GormReportRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReportItemModel{}).
		Where("status = ?", string(entity.QueuePending)).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "report count failed", err)
	}
	return count, nil
}

func reportToModel(item *entity.ReportItem) *models.ReportItemModel {
	return &models.ReportItemModel{
		ID:                item.ID,
		ContactPhone:      item.ContactPhone,
		DisplayName:       item.DisplayName,
		ConversationID:    item.ConversationID,
		Status:            string(item.Status),
		RetryCount:        item.RetryCount,
		LastError:         item.LastError,
		LastAttemptAt:     item.LastAttemptAt,
		LastUserMessageAt: item.LastUserMessageAt,
		CreatedAt:         item.CreatedAt,
	}
}

func reportToEntity(m *models.ReportItemModel) *entity.ReportItem {
	return &entity.ReportItem{
		ID:                m.ID,
		ContactPhone:      m.ContactPhone,
		DisplayName:       m.DisplayName,
		ConversationID:    m.ConversationID,
		Status:            entity.QueueStatus(m.Status),
		RetryCount:        m.RetryCount,
		LastError:         m.LastError,
		LastAttemptAt:     m.LastAttemptAt,
		LastUserMessageAt: m.LastUserMessageAt,
		CreatedAt:         m.CreatedAt,
	}
}
