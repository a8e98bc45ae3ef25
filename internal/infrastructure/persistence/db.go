package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
)

// NewDBConnection 创建数据库连接
func NewDBConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	// 配置GORM
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 自动迁移模式
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// autoMigrate 自动迁移数据库结构（十张逻辑表）
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ContactModel{},
		&models.MessageLogModel{},
		&models.ConversationModel{},
		&models.QueueItemModel{},
		&models.ReportItemModel{},
		&models.CredentialModel{},
		&models.SessionLockModel{},
		&models.AIProfileModel{},
		&models.UserProfileModel{},
		&models.QueueMetricModel{},
	)
}
