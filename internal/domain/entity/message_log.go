package entity

import "time"

// Role 消息角色
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// MessageLog 单条消息日志。按联系人地址追加，形成单调时间线：
// agent 回复行总是跟在产生它的 user 批次之后。
type MessageLog struct {
	ID           uint
	ContactPhone string
	Role         Role
	Content      string
	MediaKind    string // text, image, audio, document, …
	Platform     Platform
	CreatedAt    time.Time
}
