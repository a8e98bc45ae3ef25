package models

import (
	"time"
)

// ContactModel 数据库联系人模型
type ContactModel struct {
	Phone         string `gorm:"primaryKey;size:64"`
	DisplayName   string `gorm:"size:128"`
	ConfirmedName string `gorm:"size:128"`
	Verified      bool
	TrustLevel    int
	Summary       string `gorm:"type:text"`
	Platform      string `gorm:"size:16"`
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

// TableName 指定表名
func (ContactModel) TableName() string { return "contacts" }

// MessageLogModel 数据库消息日志模型
type MessageLogModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ContactPhone string `gorm:"index;size:64;not null"`
	Role         string `gorm:"size:16;not null"` // user, agent
	Content      string `gorm:"type:text;not null"`
	MediaKind    string `gorm:"size:32"`
	Platform     string `gorm:"size:16"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 指定表名
func (MessageLogModel) TableName() string { return "message_logs" }

// ConversationModel 数据库会话模型
type ConversationModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	ContactPhone string `gorm:"index:idx_conversations_phone_status;size:64;not null"`
	Status       string `gorm:"index:idx_conversations_phone_status;size:16;not null"`
	StartedAt    time.Time
	EndedAt      *time.Time
	Urgency      int
	Summary      string `gorm:"type:text"`
}

// TableName 指定表名
func (ConversationModel) TableName() string { return "conversations" }

// QueueItemModel 数据库队列条目模型。
// (status, priority, created_at) 复合索引服务租约查询。
type QueueItemModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	ContactPhone string `gorm:"index;size:64;not null"`
	Messages     string `gorm:"type:text;not null"` // JSON array of raw texts
	ContentHash  string `gorm:"index;size:64"`
	Priority     int    `gorm:"index:idx_queue_lease,priority:2"`
	Status       string `gorm:"index:idx_queue_lease,priority:1;size:16;not null"`
	RetryCount   int
	WorkerID     string `gorm:"size:64"`
	LastError    string `gorm:"type:text"`
	VisibleAt    time.Time
	CreatedAt    time.Time `gorm:"index:idx_queue_lease,priority:3"`
	ProcessedAt  *time.Time
}

// TableName 指定表名
func (QueueItemModel) TableName() string { return "message_queue" }

// ReportItemModel 数据库报告队列模型
type ReportItemModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	ContactPhone      string `gorm:"index;size:64;not null"`
	DisplayName       string `gorm:"size:128"`
	ConversationID    string `gorm:"size:64"`
	Status            string `gorm:"index;size:16;not null"`
	RetryCount        int
	LastError         string `gorm:"type:text"`
	LastAttemptAt     *time.Time
	LastUserMessageAt time.Time
	CreatedAt         time.Time
}

// TableName 指定表名
func (ReportItemModel) TableName() string { return "report_queue" }

// CredentialModel 传输层会话密钥，value 为二进制安全的 JSON 编码
type CredentialModel struct {
	Key       string `gorm:"primaryKey;size:128"` // "collection:id"
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (CredentialModel) TableName() string { return "auth_credentials" }

// SessionLockModel 单实例锁行
type SessionLockModel struct {
	SessionName string `gorm:"primaryKey;size:64"`
	HolderID    string `gorm:"size:64;not null"`
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定表名
func (SessionLockModel) TableName() string { return "session_lock" }

// AIProfileModel ai_profile 单例行 (id 恒为 1)
type AIProfileModel struct {
	ID             int `gorm:"primaryKey"`
	Name           string
	Role           string
	Traits         string `gorm:"type:text"`
	SystemPrompt   string `gorm:"type:text"`
	Instructions   string `gorm:"type:text"`
	Greeting       string
	ResponseLength string `gorm:"size:16"`
	UpdatedAt      time.Time
}

// TableName 指定表名
func (AIProfileModel) TableName() string { return "ai_profile" }

// UserProfileModel user_profile 单例行 (id 恒为 1)
type UserProfileModel struct {
	ID           int `gorm:"primaryKey"`
	Name         string
	Timezone     string `gorm:"size:64"`
	Occupation   string
	Availability string `gorm:"type:text"`
	Notes        string `gorm:"type:text"`
	UpdatedAt    time.Time
}

// TableName 指定表名
func (UserProfileModel) TableName() string { return "user_profile" }

// QueueMetricModel 并发控制器的采样记录
type QueueMetricModel struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Depth     int64
	Workers   int
	ErrorRate float64
	CreatedAt time.Time `gorm:"index"`
}

// TableName 指定表名
func (QueueMetricModel) TableName() string { return "queue_metrics" }
