package entity

import "time"

// Platform 消息平台标签
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// Contact 联系人档案，以归一化地址（纯数字电话或 chat id）为唯一键。
// 由入站消息首次创建，核心管线永不删除。
type Contact struct {
	Phone         string   // 归一化地址
	DisplayName   string   // push-name 提取的原始显示名
	ConfirmedName string   // 经 update_contact_info 确认的名字
	Verified      bool     // 身份是否已确认
	TrustLevel    int      // 信任等级 0–10
	Summary       string   // 画像摘要（由 profiling pass 维护）
	Platform      Platform // 来源平台
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

// BestName returns the confirmed name when verified, else the display name,
// else the address itself.
func (c *Contact) BestName() string {
	if c.ConfirmedName != "" {
		return c.ConfirmedName
	}
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Phone
}
