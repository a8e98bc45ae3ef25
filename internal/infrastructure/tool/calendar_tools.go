package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
)

// GetCurrentTimeTool 当前时间（owner 时区），所有联系人可用
type GetCurrentTimeTool struct {
	profiles repository.ProfileRepository
}

// NewGetCurrentTimeTool 创建时间工具
func NewGetCurrentTimeTool(profiles repository.ProfileRepository) *GetCurrentTimeTool {
	return &GetCurrentTimeTool{profiles: profiles}
}

func (t *GetCurrentTimeTool) Name() string { return "get_current_time" }

func (t *GetCurrentTimeTool) OwnerOnly() bool { return false }

func (t *GetCurrentTimeTool) Description() string {
	return "Get the current date and time in the owner's timezone."
}

func (t *GetCurrentTimeTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *GetCurrentTimeTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	now := time.Now()
	if profile, err := t.profiles.UserProfile(ctx); err == nil && profile.Timezone != "" {
		if loc, err := time.LoadLocation(profile.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	return &Result{Result: now.Format("Monday, 2 January 2006 15:04 (MST)")}, nil
}

// CheckScheduleTool owner 的常规可约时段描述，所有联系人可用
type CheckScheduleTool struct {
	calendar CalendarService
}

// NewCheckScheduleTool 创建时段查询工具
func NewCheckScheduleTool(calendar CalendarService) *CheckScheduleTool {
	return &CheckScheduleTool{calendar: calendar}
}

func (t *CheckScheduleTool) Name() string { return "check_schedule" }

func (t *CheckScheduleTool) OwnerOnly() bool { return false }

func (t *CheckScheduleTool) Description() string {
	return "Look up when the owner is generally available, plus any upcoming meetings."
}

func (t *CheckScheduleTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CheckScheduleTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	availability, err := t.calendar.Availability(ctx)
	if err != nil {
		return &Result{Error: "schedule unavailable"}, err
	}

	lines := []string{availability}
	if meetings, err := t.calendar.Upcoming(ctx, 5); err == nil && len(meetings) > 0 {
		lines = append(lines, "Upcoming:")
		for _, m := range meetings {
			lines = append(lines, fmt.Sprintf("- %s: %s", m.Start.Format("Mon 2 Jan 15:04"), m.Subject))
		}
	}
	return &Result{Result: strings.Join(lines, "\n")}, nil
}

// CheckAvailabilityTool 具体时间点是否可约，所有联系人可用
type CheckAvailabilityTool struct {
	calendar CalendarService
}

// NewCheckAvailabilityTool 创建时间点检查工具
func NewCheckAvailabilityTool(calendar CalendarService) *CheckAvailabilityTool {
	return &CheckAvailabilityTool{calendar: calendar}
}

func (t *CheckAvailabilityTool) Name() string { return "check_availability" }

func (t *CheckAvailabilityTool) OwnerOnly() bool { return false }

func (t *CheckAvailabilityTool) Description() string {
	return "Check whether a specific time slot is free before proposing a meeting. " +
		"Time must be RFC3339, e.g. 2026-08-26T15:00:00Z."
}

func (t *CheckAvailabilityTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"time": map[string]interface{}{
				"type":        "string",
				"description": "Proposed slot in RFC3339 format",
			},
		},
		"required": []string{"time"},
	}
}

func (t *CheckAvailabilityTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	at, result := parseSlot(args)
	if result != nil {
		return result, nil
	}

	free, err := t.calendar.IsFree(ctx, at)
	if err != nil {
		return &Result{Error: "availability check failed"}, err
	}
	if free {
		return &Result{Result: "That slot is free."}, nil
	}
	return &Result{Result: "That slot conflicts with an existing meeting."}, nil
}

// ScheduleMeetingTool 登记一条日程，所有联系人可用
type ScheduleMeetingTool struct {
	calendar CalendarService
}

// NewScheduleMeetingTool 创建排期工具
func NewScheduleMeetingTool(calendar CalendarService) *ScheduleMeetingTool {
	return &ScheduleMeetingTool{calendar: calendar}
}

func (t *ScheduleMeetingTool) Name() string { return "schedule_meeting" }

func (t *ScheduleMeetingTool) OwnerOnly() bool { return false }

func (t *ScheduleMeetingTool) Description() string {
	return "Book a meeting with the owner once a time has been agreed. " +
		"Check availability first. Time must be RFC3339."
}

func (t *ScheduleMeetingTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"time": map[string]interface{}{
				"type":        "string",
				"description": "Agreed slot in RFC3339 format",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "What the meeting is about",
			},
		},
		"required": []string{"time", "subject"},
	}
}

func (t *ScheduleMeetingTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	at, result := parseSlot(args)
	if result != nil {
		return result, nil
	}
	subject, _ := args["subject"].(string)
	if strings.TrimSpace(subject) == "" {
		return &Result{Error: "subject is required"}, nil
	}

	with := "unknown contact"
	if inv != nil && inv.Contact != nil {
		with = inv.Contact.BestName()
	}

	if err := t.calendar.Schedule(ctx, at, subject, with); err != nil {
		return &Result{Error: err.Error()}, nil
	}
	return &Result{Result: fmt.Sprintf("Meeting booked for %s: %s", at.Format("Mon 2 Jan 15:04"), subject)}, nil
}

func parseSlot(args map[string]interface{}) (time.Time, *Result) {
	raw, _ := args["time"].(string)
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &Result{Error: fmt.Sprintf("%q is not a valid RFC3339 time", raw)}
	}
	if at.Before(time.Now()) {
		return time.Time{}, &Result{Error: "that time is in the past"}
	}
	return at, nil
}
