package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
	"github.com/nightdesk/nightdesk/pkg/safego"
)

const (
	lockHeartbeatInterval = 1 * time.Minute
	lockExpiry            = 2 * time.Minute
)

// SessionLock 数据库行级单实例锁。
// 同名会话同一时刻只允许一个进程持有；持有者定期心跳续约，
// 崩溃后锁随 expires_at 过期，其他进程可接管。
type SessionLock struct {
	db          *gorm.DB
	logger      *zap.Logger
	sessionName string
	holderID    string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionLock 创建会话锁，holder id 每进程唯一
func NewSessionLock(db *gorm.DB, logger *zap.Logger, sessionName string) *SessionLock {
	return &SessionLock{
		db:          db,
		logger:      logger,
		sessionName: sessionName,
		holderID:    uuid.NewString(),
	}
}

// HolderID 返回本进程的持有者标识
func (l *SessionLock) HolderID() string { return l.holderID }

// Acquire 尝试取锁并启动心跳。
// 锁行不存在或已过期时接管，否则返回 SessionConflict。
func (l *SessionLock) Acquire(ctx context.Context) error {
	if err := l.tryAcquire(ctx); err != nil {
		return err
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	safego.Go(l.logger, "session-lock-heartbeat", func() {
		defer close(l.done)
		ticker := time.NewTicker(lockHeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := l.renew(hbCtx); err != nil {
					l.logger.Warn("会话锁续约失败", zap.Error(err))
				}
			}
		}
	})

	l.logger.Info("会话锁已获取",
		zap.String("session", l.sessionName),
		zap.String("holder", l.holderID))
	return nil
}

func (l *SessionLock) tryAcquire(ctx context.Context) error {
	now := time.Now().UTC()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.SessionLockModel
		err := tx.First(&row, "session_name = ?", l.sessionName).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = models.SessionLockModel{
				SessionName: l.sessionName,
				HolderID:    l.holderID,
				ExpiresAt:   now.Add(lockExpiry),
				UpdatedAt:   now,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		if row.HolderID != l.holderID && row.ExpiresAt.After(now) {
			return domainErrors.NewSessionConflict("session lock held by another instance")
		}

		row.HolderID = l.holderID
		row.ExpiresAt = now.Add(lockExpiry)
		row.UpdatedAt = now
		return tx.Save(&row).Error
	})
	if err != nil {
		if domainErrors.IsSessionConflict(err) {
			return err
		}
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "session lock acquire failed", err)
	}
	return nil
}

// renew 仅在仍持有锁时续约
func (l *SessionLock) renew(ctx context.Context) error {
	now := time.Now().UTC()
	result := l.db.WithContext(ctx).
		Model(&models.SessionLockModel{}).
		Where("session_name = ? AND holder_id = ?", l.sessionName, l.holderID).
		Updates(map[string]interface{}{
			"expires_at": now.Add(lockExpiry),
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewSessionConflict("session lock lost")
	}
	return nil
}

// Release 停止心跳并删除锁行；只删自己持有的行
func (l *SessionLock) Release(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
		l.cancel = nil
	}

	err := l.db.WithContext(ctx).
		Delete(&models.SessionLockModel{}, "session_name = ? AND holder_id = ?", l.sessionName, l.holderID).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "session lock release failed", err)
	}

	l.logger.Info("会话锁已释放", zap.String("session", l.sessionName))
	return nil
}
