package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// Store 持久化消息队列。
// 进程重启后 pending 行原样恢复，processing 行由租约超时回收。
// 同一联系人同一时刻至多一个批次在处理，保证回复顺序。
type Store struct {
	db          *gorm.DB
	logger      *zap.Logger
	maxRetries  int
	leaseExpiry time.Duration

	// 进程内联系人级租约，跨 worker 串行化同一联系人
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewStore 创建队列存储
func NewStore(db *gorm.DB, logger *zap.Logger, maxRetries int, leaseExpiry time.Duration) *Store {
	return &Store{
		db:          db,
		logger:      logger,
		maxRetries:  maxRetries,
		leaseExpiry: leaseExpiry,
		inFlight:    make(map[string]bool),
	}
}

// Enqueue 入队一个批次。
// 相同联系人 + 相同内容已有 pending 行时合并（幂等入队），
// 合并时保留更紧急的优先级。
func (s *Store) Enqueue(ctx context.Context, item *entity.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.VisibleAt.IsZero() {
		item.VisibleAt = now
	}
	item.Status = entity.QueuePending
	hash := item.ContentHash()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.QueueItemModel
		err := tx.
			Where("contact_phone = ? AND content_hash = ? AND status = ?",
				item.ContactPhone, hash, string(entity.QueuePending)).
			First(&existing).Error
		if err == nil {
			if int(item.Priority) < existing.Priority {
				return tx.Model(&existing).Update("priority", int(item.Priority)).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		model, err := itemToModel(item)
		if err != nil {
			return err
		}
		model.ContentHash = hash
		return tx.Create(model).Error
	})
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "queue enqueue failed", err)
	}
	return nil
}

// Lease 取出优先级最高（数值最小）、同优先级内最老的可见 pending 批次，
// 标记为 processing 并设置租约过期时间。联系人已有批次在处理时跳过。
// 队列为空或全部被跳过时返回 NOT_FOUND。
func (s *Store) Lease(ctx context.Context, workerID string) (*entity.QueueItem, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var model models.QueueItemModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.QueueItemModel
		err := tx.
			Where("status = ? AND visible_at <= ?", string(entity.QueuePending), now).
			Order("priority asc, created_at asc").
			Limit(32).
			Find(&candidates).Error
		if err != nil {
			return err
		}

		for i := range candidates {
			if s.inFlight[candidates[i].ContactPhone] {
				continue
			}
			model = candidates[i]
			model.Status = string(entity.QueueProcessing)
			model.WorkerID = workerID
			model.VisibleAt = now.Add(s.leaseExpiry)
			return tx.Save(&model).Error
		}
		return gorm.ErrRecordNotFound
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("no leasable queue item")
		}
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "queue lease failed", err)
	}

	s.inFlight[model.ContactPhone] = true
	return modelToItem(&model)
}

// Complete 批次处理成功，终态
func (s *Store) Complete(ctx context.Context, item *entity.QueueItem) error {
	defer s.releaseContact(item.ContactPhone)

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.QueueItemModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":       string(entity.QueueCompleted),
			"processed_at": now,
		}).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "queue complete failed", err)
	}
	return nil
}

// Fail 处理失败。重试次数未耗尽回到 pending 并指数退避，
// 否则标记 failed 终态。
func (s *Store) Fail(ctx context.Context, item *entity.QueueItem, cause string) error {
	defer s.releaseContact(item.ContactPhone)

	item.RetryCount++
	item.LastError = cause

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"retry_count": item.RetryCount,
		"last_error":  cause,
		"worker_id":   "",
	}
	if item.RetryCount >= s.maxRetries {
		item.Status = entity.QueueFailed
		updates["status"] = string(entity.QueueFailed)
		updates["processed_at"] = now
	} else {
		item.Status = entity.QueuePending
		backoff := time.Duration(1<<uint(item.RetryCount-1)) * time.Second
		updates["status"] = string(entity.QueuePending)
		updates["visible_at"] = now.Add(backoff)
	}

	err := s.db.WithContext(ctx).
		Model(&models.QueueItemModel{}).
		Where("id = ?", item.ID).
		Updates(updates).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "queue fail update failed", err)
	}
	return nil
}

// Requeue 把批次放回 pending 并延迟到 visibleAt 才可见。
// 限流等环境性失败走这里，不消耗重试次数。
func (s *Store) Requeue(ctx context.Context, item *entity.QueueItem, visibleAt time.Time) error {
	defer s.releaseContact(item.ContactPhone)

	item.Status = entity.QueuePending
	item.VisibleAt = visibleAt

	err := s.db.WithContext(ctx).
		Model(&models.QueueItemModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":     string(entity.QueuePending),
			"worker_id":  "",
			"visible_at": visibleAt,
		}).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "queue requeue failed", err)
	}
	return nil
}

// RecoverStale 回收租约过期的 processing 行（worker 崩溃或进程重启）。
// 返回回收数量。
func (s *Store) RecoverStale(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.QueueItemModel{}).
		Where("status = ? AND visible_at < ?", string(entity.QueueProcessing), now).
		Updates(map[string]interface{}{
			"status":     string(entity.QueuePending),
			"worker_id":  "",
			"visible_at": now,
		})
	if result.Error != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "queue recover failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Warn("回收过期租约批次", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// PurgeTerminal 清除超过 TTL 的终态行
func (s *Store) PurgeTerminal(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	result := s.db.WithContext(ctx).
		Where("status IN ? AND processed_at < ?",
			[]string{string(entity.QueueCompleted), string(entity.QueueFailed)}, cutoff).
		Delete(&models.QueueItemModel{})
	if result.Error != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "queue purge failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Depth 可处理的 pending 批次数量
func (s *Store) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.QueueItemModel{}).
		Where("status = ?", string(entity.QueuePending)).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.Wrap(domainErrors.CodeDBTransient, "queue depth failed", err)
	}
	return count, nil
}

// MetricSample 并发控制器一次采样的只读视图
type MetricSample struct {
	Depth     int64
	Workers   int
	ErrorRate float64
	SampledAt time.Time
}

// RecentMetrics 最近 limit 条采样记录，新的在前
func (s *Store) RecentMetrics(ctx context.Context, limit int) ([]MetricSample, error) {
	var rows []models.QueueMetricModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "queue metrics query failed", err)
	}

	out := make([]MetricSample, 0, len(rows))
	for _, row := range rows {
		out = append(out, MetricSample{
			Depth:     row.Depth,
			Workers:   row.Workers,
			ErrorRate: row.ErrorRate,
			SampledAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) releaseContact(phone string) {
	s.mu.Lock()
	delete(s.inFlight, phone)
	s.mu.Unlock()
}

func itemToModel(item *entity.QueueItem) (*models.QueueItemModel, error) {
	messages, err := json.Marshal(item.Messages)
	if err != nil {
		return nil, err
	}
	return &models.QueueItemModel{
		ID:           item.ID,
		ContactPhone: item.ContactPhone,
		Messages:     string(messages),
		Priority:     int(item.Priority),
		Status:       string(item.Status),
		RetryCount:   item.RetryCount,
		WorkerID:     item.WorkerID,
		LastError:    item.LastError,
		VisibleAt:    item.VisibleAt,
		CreatedAt:    item.CreatedAt,
		ProcessedAt:  item.ProcessedAt,
	}, nil
}

func modelToItem(m *models.QueueItemModel) (*entity.QueueItem, error) {
	var messages []string
	if err := json.Unmarshal([]byte(m.Messages), &messages); err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeInternal, "queue item decode failed", err)
	}
	return &entity.QueueItem{
		ID:           m.ID,
		ContactPhone: m.ContactPhone,
		Messages:     messages,
		Priority:     entity.Priority(m.Priority),
		Status:       entity.QueueStatus(m.Status),
		RetryCount:   m.RetryCount,
		WorkerID:     m.WorkerID,
		LastError:    m.LastError,
		VisibleAt:    m.VisibleAt,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
	}, nil
}
