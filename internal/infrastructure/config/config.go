package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Owner    OwnerConfig    `mapstructure:"owner"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Database DatabaseConfig `mapstructure:"database"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// OwnerConfig 所有者身份配置
type OwnerConfig struct {
	// Address 规范地址（纯数字电话形式）
	Address string `mapstructure:"address"`
	// SecondaryID 备用标识（如桌面端关联 ID），入站时归一化回 Address
	SecondaryID string `mapstructure:"secondary_id"`
}

// IsOwner reports whether addr identifies the owner under any known alias.
func (o OwnerConfig) IsOwner(addr string) bool {
	if addr == "" {
		return false
	}
	return addr == o.Address || (o.SecondaryID != "" && addr == o.SecondaryID)
}

// Canonical maps any known owner alias back to the canonical address.
func (o OwnerConfig) Canonical(addr string) string {
	if o.SecondaryID != "" && addr == o.SecondaryID {
		return o.Address
	}
	return addr
}

// LLMConfig LLM 网关配置
type LLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`

	// 凭证来源（三者可叠加，去重后构成密钥池）:
	//   api_key      — 主密钥
	//   api_key_N    — 编号密钥 (api_key_1 … api_key_9)
	//   api_keys     — 逗号分隔列表
	APIKey  string `mapstructure:"api_key"`
	APIKeys string `mapstructure:"api_keys"`

	MinSpacing time.Duration `mapstructure:"min_spacing"` // 两次请求的最小间隔（随密钥数缩放）
	RetryDelay time.Duration `mapstructure:"retry_delay"` // 换 key 前的退避
	MaxRetries int           `mapstructure:"max_retries"` // 轮转重试上限
	Timeout    time.Duration `mapstructure:"timeout"`     // 单次调用墙钟超时
}

// Keys assembles the deduplicated credential pool from all three sources,
// preserving declaration order: api_key, api_key_1…api_key_9, api_keys list.
func (c LLMConfig) Keys(v *viper.Viper) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	add(c.APIKey)
	if v != nil {
		for i := 1; i <= 9; i++ {
			add(v.GetString(fmt.Sprintf("llm.api_key_%d", i)))
		}
	}
	for _, k := range strings.Split(c.APIKeys, ",") {
		add(k)
	}
	return keys
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// WhatsAppConfig 主传输层（WhatsApp 风格 socket）配置
type WhatsAppConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`          // websocket endpoint
	SessionName string `mapstructure:"session_name"` // session_lock 行的键
}

// TelegramConfig 次传输层配置
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token"`
	OwnerChatID int64  `mapstructure:"owner_chat_id"`
}

// HTTPConfig 管理 API 配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PipelineConfig 消息管线可调参数
type PipelineConfig struct {
	DebounceWindow      time.Duration `mapstructure:"debounce_window"`      // 去抖静默窗口
	DebounceMaxBuffer   int           `mapstructure:"debounce_max_buffer"`  // 单发送者缓冲上限，满则立即冲刷
	ConversationTimeout time.Duration `mapstructure:"conversation_timeout"` // 会话静默超时
	MaxToolDepth        int           `mapstructure:"max_tool_depth"`       // 工具循环深度上限
	MaxRetries          int           `mapstructure:"max_retries"`          // 队列条目重试上限
	LeaseTimeout        time.Duration `mapstructure:"lease_timeout"`        // 崩溃恢复的租约过期阈值
	TerminalTTL         time.Duration `mapstructure:"terminal_ttl"`         // completed/failed 行的保留时长

	WorkersInitial int `mapstructure:"workers_initial"`
	WorkersMin     int `mapstructure:"workers_min"`
	WorkersMax     int `mapstructure:"workers_max"`

	ScaleInterval  time.Duration `mapstructure:"scale_interval"`  // 并发控制器采样间隔
	HighWatermark  int           `mapstructure:"high_watermark"`  // 队列深度扩容阈值
	LowWatermark   int           `mapstructure:"low_watermark"`   // 队列深度缩容阈值
	ErrorThreshold float64       `mapstructure:"error_threshold"` // 扩容允许的最大错误率
}

// Load 加载配置
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// ─── 分层配置加载 ───
	// 优先级 (低 → 高): 默认值 → 全局 ~/.nightdesk/ → 项目本地 → 环境变量
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.nightdesk/config.yaml (基础层 — 密钥、owner、transports)
	globalDir := filepath.Join(os.Getenv("HOME"), ".nightdesk")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置 (覆盖层 — database, pipeline 等)
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖 (NIGHTDESK_OWNER_ADDRESS, NIGHTDESK_LLM_API_KEY, …)
	v.SetEnvPrefix("NIGHTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Owner.Address == "" {
		return nil, nil, fmt.Errorf("owner.address is required")
	}

	return &cfg, v, nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// HTTP 默认值
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 18790)
	v.SetDefault("http.mode", "local")

	// Database 默认值
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "nightdesk.db")

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// LLM 网关默认值
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.min_spacing", "3s")
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.max_retries", 50)
	v.SetDefault("llm.timeout", "30s")

	// WhatsApp 传输默认值
	v.SetDefault("whatsapp.enabled", true)
	v.SetDefault("whatsapp.session_name", "nightdesk-main")

	// Pipeline 默认值
	v.SetDefault("pipeline.debounce_window", "8s")
	v.SetDefault("pipeline.debounce_max_buffer", 20)
	v.SetDefault("pipeline.conversation_timeout", "20m")
	v.SetDefault("pipeline.max_tool_depth", 5)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.lease_timeout", "10m")
	v.SetDefault("pipeline.terminal_ttl", "24h")
	v.SetDefault("pipeline.workers_initial", 4)
	v.SetDefault("pipeline.workers_min", 1)
	v.SetDefault("pipeline.workers_max", 16)
	v.SetDefault("pipeline.scale_interval", "30s")
	v.SetDefault("pipeline.high_watermark", 10)
	v.SetDefault("pipeline.low_watermark", 2)
	v.SetDefault("pipeline.error_threshold", 0.5)
}
