package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

type scriptedReportGateway struct {
	mu         sync.Mutex
	analysis   *llm.ConversationAnalysis
	analyzeErr error
	report     string
	reportErr  error
	earliest   time.Time
}

func (g *scriptedReportGateway) AnalyzeConversation(ctx context.Context, transcript string) (*llm.ConversationAnalysis, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.analyzeErr != nil {
		return nil, g.analyzeErr
	}
	return g.analysis, nil
}

func (g *scriptedReportGateway) GenerateReport(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reportErr != nil {
		return "", g.reportErr
	}
	return g.report, nil
}

func (g *scriptedReportGateway) EarliestAvailable() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.earliest
}

type reportHarness struct {
	worker        *ReportWorker
	reports       *fakeReports
	conversations *fakeConversations
	logs          *fakeLogs
	notifier      *fakeNotifier
}

func newReportHarness(t *testing.T, gateway ReportGateway) *reportHarness {
	t.Helper()
	h := &reportHarness{
		reports:       &fakeReports{},
		conversations: newFakeConversations(),
		logs:          &fakeLogs{},
		notifier:      &fakeNotifier{},
	}
	h.worker = NewReportWorker(h.reports, h.conversations, h.logs, gateway, h.notifier, 3, zap.NewNop())
	return h
}

func (h *reportHarness) seedConversation(t *testing.T, phone string, lines ...string) string {
	t.Helper()
	ctx := context.Background()
	conv, err := h.conversations.Open(ctx, phone)
	if err != nil {
		t.Fatal(err)
	}
	for i, line := range lines {
		role := entity.RoleUser
		if i%2 == 1 {
			role = entity.RoleAgent
		}
		h.logs.Append(ctx, &entity.MessageLog{ContactPhone: phone, Role: role, Content: line})
	}
	return conv.ID
}

func TestReportWorkerDeliversReport(t *testing.T) {
	gw := &scriptedReportGateway{
		analysis: &llm.ConversationAnalysis{Urgency: 7, Status: "resolved", Summary: "boiler leak at the flat"},
		report:   "Alice called about a boiler leak, plumber booked for Friday.",
	}
	h := newReportHarness(t, gw)
	convID := h.seedConversation(t, "111", "the boiler is leaking", "I'll arrange a plumber")
	h.reports.Enqueue(context.Background(), &entity.ReportItem{
		ContactPhone: "111", DisplayName: "Alice", ConversationID: convID,
	})

	item, err := h.reports.Lease(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h.worker.process(context.Background(), item)

	notes := h.notifier.all()
	if len(notes) != 1 {
		t.Fatalf("owner notes = %v, want 1", notes)
	}
	if !strings.Contains(notes[0], "urgency 7/10") || !strings.Contains(notes[0], "boiler leak") {
		t.Errorf("report text = %q", notes[0])
	}

	conv, _ := h.conversations.Find(context.Background(), convID)
	if conv.Urgency != 7 || conv.Summary == "" {
		t.Errorf("conversation not annotated: %+v", conv)
	}

	n, _ := h.reports.PendingCount(context.Background())
	if n != 0 {
		t.Error("report still pending after delivery")
	}
}

func TestReportWorkerSkipsEmptyTranscript(t *testing.T) {
	gw := &scriptedReportGateway{analysis: &llm.ConversationAnalysis{Urgency: 5}}
	h := newReportHarness(t, gw)
	convID := h.seedConversation(t, "111") // 没有任何消息
	h.reports.Enqueue(context.Background(), &entity.ReportItem{ContactPhone: "111", ConversationID: convID})

	item, _ := h.reports.Lease(context.Background())
	h.worker.process(context.Background(), item)

	if got := len(h.notifier.all()); got != 0 {
		t.Error("report generated for empty conversation")
	}
	n, _ := h.reports.PendingCount(context.Background())
	if n != 0 {
		t.Error("empty report not completed")
	}
}

func TestReportWorkerKeyExhaustionReleasesWithoutRetry(t *testing.T) {
	gw := &scriptedReportGateway{
		analyzeErr: domainErrors.NewAllKeysExhausted("pool drained"),
		earliest:   time.Now().Add(10 * time.Millisecond),
	}
	h := newReportHarness(t, gw)
	convID := h.seedConversation(t, "111", "anyone there?")
	h.reports.Enqueue(context.Background(), &entity.ReportItem{ContactPhone: "111", ConversationID: convID})

	item, _ := h.reports.Lease(context.Background())
	// 已取消的 ctx 让恢复等待立即返回，不拖慢测试
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.worker.process(ctx, item)

	n, _ := h.reports.PendingCount(context.Background())
	if n != 1 {
		t.Fatalf("pending = %d, want released back to 1", n)
	}
	released, _ := h.reports.Lease(context.Background())
	if released.RetryCount != 0 {
		t.Errorf("retry count = %d, key exhaustion must not burn a retry", released.RetryCount)
	}
}

func TestReportWorkerFailureBurnsRetryThenTerminal(t *testing.T) {
	gw := &scriptedReportGateway{reportErr: errors.New("provider rejected prompt"),
		analysis: &llm.ConversationAnalysis{Urgency: 4, Summary: "small talk"}}
	h := newReportHarness(t, gw)
	convID := h.seedConversation(t, "111", "hello")
	h.reports.Enqueue(context.Background(), &entity.ReportItem{ContactPhone: "111", ConversationID: convID})

	for i := 0; i < 3; i++ {
		item, err := h.reports.Lease(context.Background())
		if err != nil {
			t.Fatalf("lease %d: %v", i, err)
		}
		h.worker.process(context.Background(), item)
	}

	if _, err := h.reports.Lease(context.Background()); !domainErrors.IsNotFound(err) {
		t.Error("report still leasable after retries exhausted")
	}
	if got := len(h.notifier.all()); got != 0 {
		t.Error("owner notified despite generation failure")
	}
}
