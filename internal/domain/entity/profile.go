package entity

// AIProfile 机器人人格配置（单例行）。
// 提示词构建的优先级见 service.PromptBuilder。
type AIProfile struct {
	Name           string // 身份名
	Role           string // 角色（secretary, assistant, …）
	Traits         string // 性格特质
	SystemPrompt   string // 设置后覆盖组件式构建
	Instructions   string // 追加指令
	Greeting       string // 可选问候语
	ResponseLength string // "short" 注入简短回复约束
}

// UserProfile 所有者画像（单例行），注入到每次提示词的用户上下文块。
type UserProfile struct {
	Name         string
	Timezone     string // IANA 时区名，用于 temporal context
	Occupation   string
	Availability string // 空闲时段描述，check_availability 的数据源
	Notes        string
}
