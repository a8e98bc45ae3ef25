package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// 进程内假实现，跨本包测试共用

type fakeContacts struct {
	mu       sync.Mutex
	contacts map[string]*entity.Contact
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{contacts: make(map[string]*entity.Contact)}
}

func (f *fakeContacts) Upsert(ctx context.Context, phone, pushName string, platform entity.Platform) (*entity.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[phone]
	if !ok {
		c = &entity.Contact{
			Phone:       phone,
			DisplayName: pushName,
			Platform:    platform,
			CreatedAt:   time.Now().UTC(),
		}
		f.contacts[phone] = c
	}
	c.LastSeenAt = time.Now().UTC()
	if c.DisplayName == "" {
		c.DisplayName = pushName
	}
	copied := *c
	return &copied, nil
}

func (f *fakeContacts) Update(ctx context.Context, contact *entity.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *contact
	f.contacts[contact.Phone] = &copied
	return nil
}

func (f *fakeContacts) Find(ctx context.Context, phone string) (*entity.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[phone]
	if !ok {
		return nil, domainErrors.NewNotFoundError("contact not found")
	}
	copied := *c
	return &copied, nil
}

func (f *fakeContacts) List(ctx context.Context, limit, offset int) ([]*entity.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeContacts) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.contacts)), nil
}

type fakeLogs struct {
	mu   sync.Mutex
	logs []*entity.MessageLog
}

func (f *fakeLogs) Append(ctx context.Context, log *entity.MessageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = uint(len(f.logs) + 1)
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	copied := *log
	f.logs = append(f.logs, &copied)
	return nil
}

func (f *fakeLogs) History(ctx context.Context, phone string, limit int) ([]*entity.MessageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.MessageLog
	for _, log := range f.logs {
		if log.ContactPhone == phone {
			out = append(out, log)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeLogs) Since(ctx context.Context, phone string, t time.Time) ([]*entity.MessageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.MessageLog
	for _, log := range f.logs {
		if log.ContactPhone == phone && !log.CreatedAt.Before(t) {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeLogs) Search(ctx context.Context, phone, query string, limit int) ([]*entity.MessageLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.MessageLog
	for _, log := range f.logs {
		if phone != "" && log.ContactPhone != phone {
			continue
		}
		if strings.Contains(log.Content, query) {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeLogs) RecentContacts(ctx context.Context, t time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for i := len(f.logs) - 1; i >= 0; i-- {
		log := f.logs[i]
		if log.CreatedAt.Before(t) || seen[log.ContactPhone] {
			continue
		}
		seen[log.ContactPhone] = true
		out = append(out, log.ContactPhone)
	}
	return out, nil
}

func (f *fakeLogs) CountSince(ctx context.Context, t time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, log := range f.logs {
		if !log.CreatedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLogs) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.logs)), nil
}

func (f *fakeLogs) contents(phone string, role entity.Role) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, log := range f.logs {
		if log.ContactPhone == phone && log.Role == role {
			out = append(out, log.Content)
		}
	}
	return out
}

type fakeQueue struct {
	mu    sync.Mutex
	items []*entity.QueueItem
}

func (f *fakeQueue) Enqueue(ctx context.Context, item *entity.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *item
	f.items = append(f.items, &copied)
	return nil
}

func (f *fakeQueue) all() []*entity.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.QueueItem, len(f.items))
	copy(out, f.items)
	return out
}

type fakeSender struct {
	mu    sync.Mutex
	sends []string // "address|text"
}

func (f *fakeSender) SendText(ctx context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, address+"|"+text)
	return nil
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	copy(out, f.sends)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []string
}

func (f *fakeNotifier) NotifyOwner(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
	return nil
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notes))
	copy(out, f.notes)
	return out
}

type fakeSessions struct {
	mu      sync.Mutex
	touched []string
	ended   []string
}

func (f *fakeSessions) Touch(phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, phone)
}

func (f *fakeSessions) EndNow(ctx context.Context, phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, phone)
}

type fakeConversations struct {
	mu   sync.Mutex
	rows map[string]*entity.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{rows: make(map[string]*entity.Conversation)}
}

func (f *fakeConversations) Active(ctx context.Context, phone string) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ContactPhone == phone && c.Status == entity.SessionActive {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domainErrors.NewNotFoundError("no active conversation")
}

func (f *fakeConversations) Open(ctx context.Context, phone string) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ContactPhone == phone && c.Status == entity.SessionActive {
			copied := *c
			return &copied, nil
		}
	}
	c := &entity.Conversation{
		ID:           uuid.NewString(),
		ContactPhone: phone,
		Status:       entity.SessionActive,
		StartedAt:    time.Now().UTC(),
	}
	f.rows[c.ID] = c
	copied := *c
	return &copied, nil
}

func (f *fakeConversations) Complete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.Status != entity.SessionActive {
		return domainErrors.NewNotFoundError("no active conversation to complete")
	}
	now := time.Now().UTC()
	c.Status = entity.SessionCompleted
	c.EndedAt = &now
	return nil
}

func (f *fakeConversations) Annotate(ctx context.Context, id string, urgency int, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[id]; ok {
		c.Urgency = urgency
		c.Summary = summary
	}
	return nil
}

func (f *fakeConversations) Find(ctx context.Context, id string) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, domainErrors.NewNotFoundError("conversation not found")
	}
	copied := *c
	return &copied, nil
}

type fakeReports struct {
	mu    sync.Mutex
	items []*entity.ReportItem
}

func (f *fakeReports) Enqueue(ctx context.Context, item *entity.ReportItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Status = entity.QueuePending
	copied := *item
	f.items = append(f.items, &copied)
	return nil
}

func (f *fakeReports) Lease(ctx context.Context) (*entity.ReportItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.Status == entity.QueuePending {
			item.Status = entity.QueueProcessing
			copied := *item
			return &copied, nil
		}
	}
	return nil, domainErrors.NewNotFoundError("report queue empty")
}

func (f *fakeReports) Complete(ctx context.Context, id string) error {
	return f.setStatus(id, entity.QueueCompleted)
}

func (f *fakeReports) Release(ctx context.Context, id string) error {
	return f.setStatus(id, entity.QueuePending)
}

func (f *fakeReports) Fail(ctx context.Context, item *entity.ReportItem, cause string, maxRetries int) error {
	item.RetryCount++
	item.LastError = cause
	status := entity.QueuePending
	if item.RetryCount >= maxRetries {
		status = entity.QueueFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.items {
		if row.ID == item.ID {
			row.RetryCount = item.RetryCount
			row.LastError = cause
			row.Status = status
		}
	}
	return nil
}

func (f *fakeReports) PendingCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.items {
		if item.Status == entity.QueuePending {
			n++
		}
	}
	return n, nil
}

func (f *fakeReports) setStatus(id string, status entity.QueueStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			item.Status = status
			return nil
		}
	}
	return domainErrors.NewNotFoundError("report not found")
}

// fakeProfiles 固定返回的画像仓储
type fakeProfiles struct {
	ai   entity.AIProfile
	user entity.UserProfile
}

func (f *fakeProfiles) AIProfile(ctx context.Context) (*entity.AIProfile, error) {
	copied := f.ai
	return &copied, nil
}

func (f *fakeProfiles) SaveAIProfile(ctx context.Context, p *entity.AIProfile) error {
	f.ai = *p
	return nil
}

func (f *fakeProfiles) UserProfile(ctx context.Context) (*entity.UserProfile, error) {
	copied := f.user
	return &copied, nil
}

func (f *fakeProfiles) SaveUserProfile(ctx context.Context, p *entity.UserProfile) error {
	f.user = *p
	return nil
}

// scriptedGateway 按脚本依次吐回复的假网关
type scriptedGateway struct {
	mu       sync.Mutex
	replies  []*llm.ReplyResult
	errs     []error
	calls    int
	idle     bool
	earliest time.Time
	profile  string
}

func (g *scriptedGateway) GenerateReply(ctx context.Context, system string, history []llm.Message, tools []llm.ToolSpec) (*llm.ReplyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return &llm.ReplyResult{Kind: llm.ReplyText, Content: "fallthrough"}, nil
}

func (g *scriptedGateway) UpdateProfile(ctx context.Context, currentSummary, transcript string) (string, error) {
	return g.profile, nil
}

func (g *scriptedGateway) Idle() bool { return g.idle }

func (g *scriptedGateway) EarliestAvailable() time.Time { return g.earliest }
