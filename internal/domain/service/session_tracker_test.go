package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

func TestSessionTrackerOpensAndExpires(t *testing.T) {
	conversations := newFakeConversations()
	contacts := newFakeContacts()
	reports := &fakeReports{}
	tracker := NewSessionTracker(conversations, contacts, reports, 40*time.Millisecond, zap.NewNop())
	defer tracker.Stop()

	contacts.Upsert(context.Background(), "111", "Alice", entity.PlatformWhatsApp)
	tracker.Touch("111")

	if _, err := conversations.Active(context.Background(), "111"); err != nil {
		t.Fatalf("no active conversation after touch: %v", err)
	}

	// 静默超时后会话转终态并排报告
	waitFor(t, 2*time.Second, func() bool {
		n, _ := reports.PendingCount(context.Background())
		return n == 1
	})

	if _, err := conversations.Active(context.Background(), "111"); err == nil {
		t.Error("conversation still active after timeout")
	}

	item, err := reports.Lease(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if item.ContactPhone != "111" || item.DisplayName != "Alice" {
		t.Errorf("report item = %+v", item)
	}
	if item.ConversationID == "" {
		t.Error("report not linked to conversation")
	}
}

func TestSessionTrackerTouchRearmsTimer(t *testing.T) {
	conversations := newFakeConversations()
	tracker := NewSessionTracker(conversations, newFakeContacts(), &fakeReports{}, 60*time.Millisecond, zap.NewNop())
	defer tracker.Stop()

	tracker.Touch("111")
	first, _ := conversations.Active(context.Background(), "111")

	// 持续触达应让会话一直活着
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		tracker.Touch("111")
	}

	current, err := conversations.Active(context.Background(), "111")
	if err != nil {
		t.Fatal("conversation expired despite continuous activity")
	}
	if current.ID != first.ID {
		t.Error("activity opened a second conversation instead of keeping the first")
	}
}

func TestSessionTrackerEndNow(t *testing.T) {
	conversations := newFakeConversations()
	reports := &fakeReports{}
	tracker := NewSessionTracker(conversations, newFakeContacts(), reports, time.Hour, zap.NewNop())
	defer tracker.Stop()

	tracker.Touch("111")
	tracker.EndNow(context.Background(), "111")

	if _, err := conversations.Active(context.Background(), "111"); err == nil {
		t.Error("conversation still active after EndNow")
	}
	n, _ := reports.PendingCount(context.Background())
	if n != 1 {
		t.Errorf("pending reports = %d, want 1", n)
	}
	// 没有联系人记录时退回地址作为展示名
	item, _ := reports.Lease(context.Background())
	if item.DisplayName != "111" {
		t.Errorf("display name = %q, want fallback to address", item.DisplayName)
	}
}

func TestSessionTrackerEndNowWithoutSessionIsNoop(t *testing.T) {
	reports := &fakeReports{}
	tracker := NewSessionTracker(newFakeConversations(), newFakeContacts(), reports, time.Hour, zap.NewNop())
	defer tracker.Stop()

	tracker.EndNow(context.Background(), "111")

	n, _ := reports.PendingCount(context.Background())
	if n != 0 {
		t.Errorf("report enqueued without an active conversation")
	}
}

func TestSessionTrackerStopCancelsTimers(t *testing.T) {
	conversations := newFakeConversations()
	reports := &fakeReports{}
	tracker := NewSessionTracker(conversations, newFakeContacts(), reports, 30*time.Millisecond, zap.NewNop())

	tracker.Touch("111")
	tracker.Stop()

	time.Sleep(80 * time.Millisecond)
	// 停机后 active 行保留，等下次进程接手
	if _, err := conversations.Active(context.Background(), "111"); err != nil {
		t.Error("active conversation should survive Stop")
	}
	n, _ := reports.PendingCount(context.Background())
	if n != 0 {
		t.Errorf("timer fired after Stop, %d reports enqueued", n)
	}
}
