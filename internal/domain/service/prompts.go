package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/domain/repository"
)

// 没有任何配置时的兜底人设
const (
	defaultRepresentativeTemplate = "You are %s, answering chat messages on behalf of %s. " +
		"Reply naturally in the same language the contact writes in. " +
		"You handle messages while the owner is away: take notes, answer what you can, " +
		"and promise to pass urgent matters on. Never invent commitments on the owner's behalf."

	defaultOwnerTemplate = "You are %s, the personal assistant of %s — and this chat IS the owner. " +
		"Answer candidly, execute instructions, and use your tools freely to look things up."

	identityDiscoveryInstruction = "This contact has not confirmed who they are. " +
		"Politely work out their name early in the conversation, and once they introduce " +
		"themselves call the update_contact_info tool to record it."

	shortResponseConstraint = "Keep replies short: one or two sentences, no filler."
)

// PromptBuilder 组装系统提示词。
// 覆盖提示 > 自定义 system prompt > 按画像组件拼装 > 默认模板，
// 之后统一追加联系人上下文、owner 画像、时间上下文与长度约束。
type PromptBuilder struct {
	profiles repository.ProfileRepository
}

// NewPromptBuilder 创建提示词构建器
func NewPromptBuilder(profiles repository.ProfileRepository) *PromptBuilder {
	return &PromptBuilder{profiles: profiles}
}

// Build 为一次回复生成系统提示词
func (b *PromptBuilder) Build(ctx context.Context, contact *entity.Contact, isOwner bool, override string) (string, error) {
	ai, err := b.profiles.AIProfile(ctx)
	if err != nil {
		return "", err
	}
	user, err := b.profiles.UserProfile(ctx)
	if err != nil {
		return "", err
	}

	var sections []string

	switch {
	case override != "":
		sections = append(sections, override)
	case ai.SystemPrompt != "":
		sections = append(sections, ai.SystemPrompt)
		if block := identityBlock(ai); block != "" {
			sections = append(sections, block)
		}
	case ai.Name != "" || ai.Role != "" || ai.Instructions != "":
		sections = append(sections, componentPrompt(ai, user, isOwner))
	default:
		sections = append(sections, defaultPrompt(ai, user, isOwner))
	}

	sections = append(sections, contactBlock(contact, isOwner))

	if block := userProfileBlock(user); block != "" {
		sections = append(sections, block)
	}
	sections = append(sections, temporalBlock(user.Timezone))

	if ai.ResponseLength == "short" {
		sections = append(sections, shortResponseConstraint)
	}

	return strings.Join(sections, "\n\n"), nil
}

// identityBlock 自定义 system prompt 之外注入的身份三要素
func identityBlock(ai *entity.AIProfile) string {
	var parts []string
	if ai.Name != "" {
		parts = append(parts, "Your name: "+ai.Name)
	}
	if ai.Role != "" {
		parts = append(parts, "Your role: "+ai.Role)
	}
	if ai.Traits != "" {
		parts = append(parts, "Your traits: "+ai.Traits)
	}
	return strings.Join(parts, "\n")
}

// componentPrompt 按画像组件拼装人设
func componentPrompt(ai *entity.AIProfile, user *entity.UserProfile, isOwner bool) string {
	name := ai.Name
	if name == "" {
		name = "the assistant"
	}
	ownerName := user.Name
	if ownerName == "" {
		ownerName = "the owner"
	}

	var sb strings.Builder
	if isOwner {
		fmt.Fprintf(&sb, defaultOwnerTemplate, name, ownerName)
	} else {
		fmt.Fprintf(&sb, defaultRepresentativeTemplate, name, ownerName)
	}
	if ai.Role != "" {
		sb.WriteString("\nYour role: " + ai.Role)
	}
	if ai.Traits != "" {
		sb.WriteString("\nYour personality: " + ai.Traits)
	}
	if ai.Instructions != "" {
		sb.WriteString("\n" + ai.Instructions)
	}
	if !isOwner && ai.Greeting != "" {
		sb.WriteString("\nWhen greeting someone new, open with: " + ai.Greeting)
	}
	return sb.String()
}

func defaultPrompt(ai *entity.AIProfile, user *entity.UserProfile, isOwner bool) string {
	name := ai.Name
	if name == "" {
		name = "the assistant"
	}
	ownerName := user.Name
	if ownerName == "" {
		ownerName = "the owner"
	}
	if isOwner {
		return fmt.Sprintf(defaultOwnerTemplate, name, ownerName)
	}
	return fmt.Sprintf(defaultRepresentativeTemplate, name, ownerName)
}

// contactBlock 联系人上下文；未验证身份时注入身份探询指令
func contactBlock(contact *entity.Contact, isOwner bool) string {
	if isOwner {
		return "You are talking with the owner."
	}
	if contact == nil {
		return "You are talking with an unknown contact."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are talking with %s (%s).", contact.BestName(), contact.Phone)
	if contact.Verified {
		fmt.Fprintf(&sb, " Identity confirmed, trust level %d/10.", contact.TrustLevel)
	}
	if contact.Summary != "" {
		sb.WriteString("\nWhat you know about them: " + contact.Summary)
	}
	if !contact.Verified && !IsValidName(contact.DisplayName) {
		sb.WriteString("\n" + identityDiscoveryInstruction)
	}
	return sb.String()
}

func userProfileBlock(user *entity.UserProfile) string {
	var parts []string
	if user.Name != "" {
		parts = append(parts, "Owner: "+user.Name)
	}
	if user.Occupation != "" {
		parts = append(parts, "Occupation: "+user.Occupation)
	}
	if user.Availability != "" {
		parts = append(parts, "Usual availability: "+user.Availability)
	}
	if user.Notes != "" {
		parts = append(parts, "Notes: "+user.Notes)
	}
	if len(parts) == 0 {
		return ""
	}
	return "About the owner:\n" + strings.Join(parts, "\n")
}

// temporalBlock 时间上下文，帮模型答"现在几点 / 明天周几"这类问题
func temporalBlock(timezone string) string {
	now := time.Now()
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			now = now.In(loc)
		}
	}
	return fmt.Sprintf("Current time: %s", now.Format("Monday, 2 January 2006, 15:04 (MST)"))
}
