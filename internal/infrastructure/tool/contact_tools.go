package tool

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/domain/service"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
)

// Result 类型别名
type Result = domaintool.Result

// UpdateContactInfoTool 联系人自报身份后固化到档案。
// 这是身份确认的唯一路径：名字经校验后写入，联系人转为已验证。
type UpdateContactInfoTool struct {
	contacts repository.ContactRepository
	logger   *zap.Logger
}

// NewUpdateContactInfoTool 创建联系人信息更新工具
func NewUpdateContactInfoTool(contacts repository.ContactRepository, logger *zap.Logger) *UpdateContactInfoTool {
	return &UpdateContactInfoTool{contacts: contacts, logger: logger}
}

func (t *UpdateContactInfoTool) Name() string { return "update_contact_info" }

func (t *UpdateContactInfoTool) OwnerOnly() bool { return false }

func (t *UpdateContactInfoTool) Description() string {
	return "Record the contact's confirmed name once they have introduced themselves. " +
		"Call this as soon as the contact states who they are. " +
		"Optionally record a short note about the relationship."
}

func (t *UpdateContactInfoTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "The contact's real name as they stated it",
			},
			"note": map[string]interface{}{
				"type":        "string",
				"description": "Optional relationship note, e.g. 'colleague from the design studio'",
			},
		},
		"required": []string{"name"},
	}
}

// Execute 校验并固化名字
func (t *UpdateContactInfoTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	if inv == nil || inv.Contact == nil {
		return &Result{Error: "no contact in scope"}, nil
	}

	name, _ := args["name"].(string)
	name = strings.TrimSpace(name)
	if !service.IsValidName(name) {
		return &Result{Error: fmt.Sprintf("%q does not look like a real name, ask again", name)}, nil
	}

	contact := inv.Contact
	contact.ConfirmedName = name
	contact.Verified = true
	if contact.TrustLevel < 3 {
		contact.TrustLevel = 3
	}
	if note, _ := args["note"].(string); strings.TrimSpace(note) != "" {
		if contact.Summary == "" {
			contact.Summary = strings.TrimSpace(note)
		} else {
			contact.Summary += "; " + strings.TrimSpace(note)
		}
	}

	if err := t.contacts.Update(ctx, contact); err != nil {
		return &Result{Error: "failed to save contact"}, err
	}

	t.logger.Info("联系人完成身份确认",
		zap.String("contact", contact.Phone),
		zap.String("name", name))
	return &Result{Result: fmt.Sprintf("Contact confirmed as %s.", name)}, nil
}
