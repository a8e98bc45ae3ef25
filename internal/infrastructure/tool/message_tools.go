package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
)

const searchResultLimit = 20

// SearchMessagesTool 在当前联系人的历史里做子串检索。
// 普通联系人只能搜到自己的对话，owner 用 search_all_conversations。
type SearchMessagesTool struct {
	logs repository.MessageLogRepository
}

// NewSearchMessagesTool 创建消息检索工具
func NewSearchMessagesTool(logs repository.MessageLogRepository) *SearchMessagesTool {
	return &SearchMessagesTool{logs: logs}
}

func (t *SearchMessagesTool) Name() string { return "search_messages" }

func (t *SearchMessagesTool) OwnerOnly() bool { return false }

func (t *SearchMessagesTool) Description() string {
	return "Search earlier messages in this conversation for a phrase. " +
		"Useful when the contact refers to something discussed before."
}

func (t *SearchMessagesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Text to look for",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchMessagesTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	if inv == nil || inv.Contact == nil {
		return &Result{Error: "no contact in scope"}, nil
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return &Result{Error: "query is required"}, nil
	}

	logs, err := t.logs.Search(ctx, inv.Contact.Phone, query, searchResultLimit)
	if err != nil {
		return &Result{Error: "search failed"}, err
	}
	return &Result{Result: renderLogLines(logs)}, nil
}

// SearchAllConversationsTool 跨全部联系人检索，仅 owner 可用
type SearchAllConversationsTool struct {
	logs     repository.MessageLogRepository
	contacts repository.ContactRepository
}

// NewSearchAllConversationsTool 创建跨会话检索工具
func NewSearchAllConversationsTool(logs repository.MessageLogRepository, contacts repository.ContactRepository) *SearchAllConversationsTool {
	return &SearchAllConversationsTool{logs: logs, contacts: contacts}
}

func (t *SearchAllConversationsTool) Name() string { return "search_all_conversations" }

func (t *SearchAllConversationsTool) OwnerOnly() bool { return true }

func (t *SearchAllConversationsTool) Description() string {
	return "Search every conversation across all contacts for a phrase."
}

func (t *SearchAllConversationsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Text to look for",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchAllConversationsTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return &Result{Error: "query is required"}, nil
	}

	logs, err := t.logs.Search(ctx, "", query, searchResultLimit)
	if err != nil {
		return &Result{Error: "search failed"}, err
	}

	lines := make([]string, 0, len(logs))
	for _, log := range logs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			log.ContactPhone, log.Role, log.Content))
	}
	if len(lines) == 0 {
		return &Result{Result: "No messages matched."}, nil
	}
	return &Result{Result: strings.Join(lines, "\n")}, nil
}

// GetRecentConversationsTool 最近活跃的联系人一览，仅 owner 可用
type GetRecentConversationsTool struct {
	logs     repository.MessageLogRepository
	contacts repository.ContactRepository
}

// NewGetRecentConversationsTool 创建最近会话工具
func NewGetRecentConversationsTool(logs repository.MessageLogRepository, contacts repository.ContactRepository) *GetRecentConversationsTool {
	return &GetRecentConversationsTool{logs: logs, contacts: contacts}
}

func (t *GetRecentConversationsTool) Name() string { return "get_recent_conversations" }

func (t *GetRecentConversationsTool) OwnerOnly() bool { return true }

func (t *GetRecentConversationsTool) Description() string {
	return "List the contacts who messaged recently, with their profile summaries."
}

func (t *GetRecentConversationsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"hours": map[string]interface{}{
				"type":        "integer",
				"description": "Look-back window in hours, default 24",
			},
		},
	}
}

func (t *GetRecentConversationsTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	hours := 24
	if h, ok := args["hours"].(float64); ok && h > 0 {
		hours = int(h)
	}

	phones, err := t.logs.RecentContacts(ctx, time.Now().UTC().Add(-time.Duration(hours)*time.Hour), searchResultLimit)
	if err != nil {
		return &Result{Error: "lookup failed"}, err
	}
	if len(phones) == 0 {
		return &Result{Result: "Nobody messaged in that window."}, nil
	}

	lines := make([]string, 0, len(phones))
	for _, phone := range phones {
		contact, err := t.contacts.Find(ctx, phone)
		if err != nil {
			lines = append(lines, phone)
			continue
		}
		line := fmt.Sprintf("%s (%s)", contact.BestName(), phone)
		if contact.Summary != "" {
			line += " — " + contact.Summary
		}
		lines = append(lines, line)
	}
	return &Result{Result: strings.Join(lines, "\n")}, nil
}

// GetDailySummaryTool 当天活动汇总，仅 owner 可用
type GetDailySummaryTool struct {
	logs     repository.MessageLogRepository
	contacts repository.ContactRepository
}

// NewGetDailySummaryTool 创建当天汇总工具
func NewGetDailySummaryTool(logs repository.MessageLogRepository, contacts repository.ContactRepository) *GetDailySummaryTool {
	return &GetDailySummaryTool{logs: logs, contacts: contacts}
}

func (t *GetDailySummaryTool) Name() string { return "get_daily_summary" }

func (t *GetDailySummaryTool) OwnerOnly() bool { return true }

func (t *GetDailySummaryTool) Description() string {
	return "Summarize today's activity: how many messages arrived and from whom."
}

func (t *GetDailySummaryTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *GetDailySummaryTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := t.logs.CountSince(ctx, midnight)
	if err != nil {
		return &Result{Error: "lookup failed"}, err
	}
	phones, err := t.logs.RecentContacts(ctx, midnight, searchResultLimit)
	if err != nil {
		return &Result{Error: "lookup failed"}, err
	}

	names := make([]string, 0, len(phones))
	for _, phone := range phones {
		if contact, err := t.contacts.Find(ctx, phone); err == nil {
			names = append(names, contact.BestName())
		} else {
			names = append(names, phone)
		}
	}

	summary := fmt.Sprintf("%d messages today", count)
	if len(names) > 0 {
		summary += " from: " + strings.Join(names, ", ")
	}
	return &Result{Result: summary}, nil
}

func renderLogLines(logs []*entity.MessageLog) string {
	if len(logs) == 0 {
		return "No messages matched."
	}
	lines := make([]string, 0, len(logs))
	for _, log := range logs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			log.CreatedAt.Format("2006-01-02 15:04"), log.Role, log.Content))
	}
	return strings.Join(lines, "\n")
}
