package entity

import "time"

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Conversation 一次逻辑会话窗口。每个联系人同一时刻至多一行 active；
// active → completed 对该行是终态，下次触达时新建一行。
type Conversation struct {
	ID           string
	ContactPhone string
	Status       SessionStatus
	StartedAt    time.Time
	EndedAt      *time.Time
	Urgency      int    // 0 = 未评估
	Summary      string // 完成后由分析回填
}
