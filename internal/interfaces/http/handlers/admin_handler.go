package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/infrastructure/queue"
)

// PrimaryTransport 主传输层在管理 API 眼中的样子
type PrimaryTransport interface {
	Status() (status, qr string)
	Logout(ctx context.Context) error
}

// SecondaryTransport 次传输层的连接状态
type SecondaryTransport interface {
	Connected() bool
}

// LockReleaser 会话锁释放入口
type LockReleaser interface {
	Release(ctx context.Context) error
}

// QueueStats 队列与工作池的观测口
type QueueStats interface {
	Depth(ctx context.Context) (int64, error)
	RecentMetrics(ctx context.Context, limit int) ([]queue.MetricSample, error)
}

// PoolStats 工作池观测口
type PoolStats interface {
	Size() int
	ErrorRate() float64
}

// AdminHandler 管理 API 的全部端点
type AdminHandler struct {
	contacts  repository.ContactRepository
	logs      repository.MessageLogRepository
	profiles  repository.ProfileRepository
	reports   repository.ReportRepository
	primary   PrimaryTransport
	secondary SecondaryTransport
	lock      LockReleaser
	queue     QueueStats
	pool      PoolStats
	logger    *zap.Logger
}

// NewAdminHandler 创建管理 API 处理器
func NewAdminHandler(
	contacts repository.ContactRepository,
	logs repository.MessageLogRepository,
	profiles repository.ProfileRepository,
	reports repository.ReportRepository,
	primary PrimaryTransport,
	secondary SecondaryTransport,
	lock LockReleaser,
	queue QueueStats,
	pool PoolStats,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		contacts:  contacts,
		logs:      logs,
		profiles:  profiles,
		reports:   reports,
		primary:   primary,
		secondary: secondary,
		lock:      lock,
		queue:     queue,
		pool:      pool,
		logger:    logger,
	}
}

// Status GET /api/status
func (h *AdminHandler) Status(c *gin.Context) {
	resp := gin.H{}

	if h.primary != nil {
		status, qr := h.primary.Status()
		entry := gin.H{"status": status}
		if qr != "" {
			entry["qr"] = qr
		}
		resp["whatsapp"] = entry
	} else {
		resp["whatsapp"] = gin.H{"status": "disabled"}
	}

	if h.secondary != nil {
		resp["telegram"] = gin.H{"connected": h.secondary.Connected()}
	} else {
		resp["telegram"] = gin.H{"connected": false}
	}

	c.JSON(http.StatusOK, resp)
}

// Disconnect POST /api/disconnect
// 登出 → 释放会话锁 → 清凭证（Logout 内完成），重连前即返回。
func (h *AdminHandler) Disconnect(c *gin.Context) {
	ctx := c.Request.Context()

	if h.primary != nil {
		if err := h.primary.Logout(ctx); err != nil {
			h.logger.Error("登出失败", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
	}
	if h.lock != nil {
		if err := h.lock.Release(ctx); err != nil {
			h.logger.Warn("会话锁释放失败", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

// ListContacts GET /api/contacts?limit=&offset=
func (h *AdminHandler) ListContacts(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	contacts, err := h.contacts.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("联系人查询失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}

	out := make([]gin.H, 0, len(contacts))
	for _, contact := range contacts {
		out = append(out, gin.H{
			"phone":          contact.Phone,
			"display_name":   contact.DisplayName,
			"confirmed_name": contact.ConfirmedName,
			"verified":       contact.Verified,
			"trust_level":    contact.TrustLevel,
			"platform":       contact.Platform,
			"last_seen_at":   contact.LastSeenAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

// ListMessages GET /api/messages?phone=&limit=
func (h *AdminHandler) ListMessages(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone query parameter is required"})
		return
	}
	limit := intQuery(c, "limit", 100)

	logs, err := h.logs.History(c.Request.Context(), phone, limit)
	if err != nil {
		h.logger.Error("消息查询失败", zap.String("contact", phone), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	out := make([]gin.H, 0, len(logs))
	for _, log := range logs {
		out = append(out, gin.H{
			"role":       log.Role,
			"content":    log.Content,
			"platform":   log.Platform,
			"created_at": log.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// Stats GET /api/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	contactCount, _ := h.contacts.Count(ctx)
	messageCount, _ := h.logs.Count(ctx)
	last24h, _ := h.logs.CountSince(ctx, time.Now().Add(-24*time.Hour))
	pendingReports, _ := h.reports.PendingCount(ctx)

	var depth int64
	if h.queue != nil {
		depth, _ = h.queue.Depth(ctx)
	}

	stats := gin.H{
		"contacts":        contactCount,
		"messages":        messageCount,
		"messages_24h":    last24h,
		"queue_depth":     depth,
		"pending_reports": pendingReports,
	}
	if h.pool != nil {
		stats["workers"] = h.pool.Size()
		stats["error_rate"] = h.pool.ErrorRate()
	}

	// 并发控制器的采样历史，新的在前
	if h.queue != nil {
		if samples, err := h.queue.RecentMetrics(ctx, 20); err == nil {
			history := make([]gin.H, 0, len(samples))
			for _, s := range samples {
				history = append(history, gin.H{
					"depth":      s.Depth,
					"workers":    s.Workers,
					"error_rate": s.ErrorRate,
					"sampled_at": s.SampledAt,
				})
			}
			stats["queue_samples"] = history
		}
	}

	c.JSON(http.StatusOK, stats)
}

// AIProfileRequest PUT /api/profile/ai 请求体
type AIProfileRequest struct {
	Name           string `json:"name"`
	Role           string `json:"role"`
	Traits         string `json:"traits"`
	SystemPrompt   string `json:"system_prompt"`
	Instructions   string `json:"instructions"`
	Greeting       string `json:"greeting"`
	ResponseLength string `json:"response_length"`
}

// PutAIProfile PUT /api/profile/ai（幂等单例 upsert）
func (h *AdminHandler) PutAIProfile(c *gin.Context) {
	var req AIProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile := &entity.AIProfile{
		Name:           req.Name,
		Role:           req.Role,
		Traits:         req.Traits,
		SystemPrompt:   req.SystemPrompt,
		Instructions:   req.Instructions,
		Greeting:       req.Greeting,
		ResponseLength: req.ResponseLength,
	}
	if err := h.profiles.SaveAIProfile(c.Request.Context(), profile); err != nil {
		h.logger.Error("AI 画像保存失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// UserProfileRequest PUT /api/profile/user 请求体
type UserProfileRequest struct {
	Name         string `json:"name"`
	Timezone     string `json:"timezone"`
	Occupation   string `json:"occupation"`
	Availability string `json:"availability"`
	Notes        string `json:"notes"`
}

// PutUserProfile PUT /api/profile/user（幂等单例 upsert）
func (h *AdminHandler) PutUserProfile(c *gin.Context) {
	var req UserProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile := &entity.UserProfile{
		Name:         req.Name,
		Timezone:     req.Timezone,
		Occupation:   req.Occupation,
		Availability: req.Availability,
		Notes:        req.Notes,
	}
	if err := h.profiles.SaveUserProfile(c.Request.Context(), profile); err != nil {
		h.logger.Error("用户画像保存失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
