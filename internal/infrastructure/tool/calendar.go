package tool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// Meeting 一条已确认的日程
type Meeting struct {
	Start   time.Time `json:"start"`
	Subject string    `json:"subject"`
	With    string    `json:"with"`
}

// CalendarService 日程后端。排期工具通过它读写 owner 的日程。
type CalendarService interface {
	// Availability owner 声明的常规可约时段描述
	Availability(ctx context.Context) (string, error)
	// IsFree 某时间点附近是否没有既有日程
	IsFree(ctx context.Context, at time.Time) (bool, error)
	Schedule(ctx context.Context, at time.Time, subject, with string) error
	Upcoming(ctx context.Context, limit int) ([]Meeting, error)
}

// meetingSlotWidth 两条日程之间的最小间隔
const meetingSlotWidth = time.Hour

// SimpleCalendar 进程内日程簿。
// 可约时段描述取自 user_profile，日程本身不落盘。
// TODO: 接外部日历（CalDAV）后替换掉内存日程簿。
type SimpleCalendar struct {
	profiles repository.ProfileRepository

	mu       sync.Mutex
	meetings []Meeting
}

// NewSimpleCalendar 创建日程服务
func NewSimpleCalendar(profiles repository.ProfileRepository) *SimpleCalendar {
	return &SimpleCalendar{profiles: profiles}
}

// Availability 返回 owner 配置的可约时段描述
func (c *SimpleCalendar) Availability(ctx context.Context) (string, error) {
	profile, err := c.profiles.UserProfile(ctx)
	if err != nil {
		return "", err
	}
	if profile.Availability == "" {
		return "No regular availability has been configured.", nil
	}
	return profile.Availability, nil
}

// IsFree 时间点前后一个时段内没有既有日程即为可约
func (c *SimpleCalendar) IsFree(ctx context.Context, at time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeLocked(at), nil
}

// Schedule 登记一条日程，时段冲突时报错。
// 冲突检查和写入在同一次持锁内完成，并发排期不会重订同一时段。
func (c *SimpleCalendar) Schedule(ctx context.Context, at time.Time, subject, with string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.freeLocked(at) {
		return domainErrors.NewInvalidInputError("requested slot conflicts with an existing meeting")
	}

	c.meetings = append(c.meetings, Meeting{Start: at.UTC(), Subject: subject, With: with})
	sort.Slice(c.meetings, func(i, j int) bool { return c.meetings[i].Start.Before(c.meetings[j].Start) })
	return nil
}

func (c *SimpleCalendar) freeLocked(at time.Time) bool {
	for _, m := range c.meetings {
		gap := m.Start.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap < meetingSlotWidth {
			return false
		}
	}
	return true
}

// Upcoming 未来的日程，按时间排序
func (c *SimpleCalendar) Upcoming(ctx context.Context, limit int) ([]Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make([]Meeting, 0, limit)
	for _, m := range c.meetings {
		if m.Start.Before(now) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
