package entity

import "time"

// ReportItem 待生成的会话摘要任务
type ReportItem struct {
	ID                string
	ContactPhone      string
	DisplayName       string
	ConversationID    string
	Status            QueueStatus
	RetryCount        int
	LastError         string
	LastAttemptAt     *time.Time
	LastUserMessageAt time.Time
	CreatedAt         time.Time
}
