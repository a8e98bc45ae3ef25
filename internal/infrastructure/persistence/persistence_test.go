package persistence

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return logger
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDBConnection(&config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func TestContactUpsertIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormContactRepository(db)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, "15550001111@s.whatsapp.net", "Alice", entity.PlatformWhatsApp)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Verified {
		t.Error("new contact should start unverified")
	}
	if first.TrustLevel != 0 {
		t.Errorf("new contact trust level = %d, want 0", first.TrustLevel)
	}

	time.Sleep(10 * time.Millisecond)

	second, err := repo.Upsert(ctx, "15550001111@s.whatsapp.net", "", entity.PlatformWhatsApp)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on repeat upsert: %v != %v", second.CreatedAt, first.CreatedAt)
	}
	if second.DisplayName != "Alice" {
		t.Errorf("display name lost on repeat upsert: %q", second.DisplayName)
	}
	if !second.LastSeenAt.After(first.LastSeenAt) {
		t.Error("LastSeenAt should advance on repeat upsert")
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("contact count = %d, want 1", count)
	}
}

func TestMessageLogHistoryOrder(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormMessageLogRepository(db)
	ctx := context.Background()

	texts := []string{"first", "second", "third", "fourth"}
	for _, text := range texts {
		err := repo.Append(ctx, &entity.MessageLog{
			ContactPhone: "alice@s.whatsapp.net",
			Role:         entity.RoleUser,
			Content:      text,
			Platform:     entity.PlatformWhatsApp,
		})
		if err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
	}

	history, err := repo.History(ctx, "alice@s.whatsapp.net", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// limit 截断最旧的，剩余按时间正序
	want := []string{"second", "third", "fourth"}
	for i, log := range history {
		if log.Content != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, log.Content, want[i])
		}
	}
}

func TestConversationOpenIsSingleActive(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormConversationRepository(db)
	ctx := context.Background()

	first, err := repo.Open(ctx, "bob@s.whatsapp.net")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := repo.Open(ctx, "bob@s.whatsapp.net")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second open created a new conversation: %s != %s", second.ID, first.ID)
	}

	if err := repo.Complete(ctx, first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 终态后重复 complete 应为 NOT_FOUND
	if err := repo.Complete(ctx, first.ID); !domainErrors.IsNotFound(err) {
		t.Errorf("repeat complete error = %v, want not-found", err)
	}

	third, err := repo.Open(ctx, "bob@s.whatsapp.net")
	if err != nil {
		t.Fatalf("open after complete: %v", err)
	}
	if third.ID == first.ID {
		t.Error("open after complete should create a fresh conversation")
	}

	done, err := repo.Find(ctx, first.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if done.Status != entity.SessionCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.EndedAt == nil {
		t.Error("completed conversation missing EndedAt")
	}
}

func TestCredentialBinaryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewGormCredentialStore(db)
	ctx := context.Background()

	noiseKey := []byte{0x00, 0x01, 0xfe, 0xff, 0x80}
	doc := map[string]interface{}{
		"registered": true,
		"noiseKey":   noiseKey,
		"server": map[string]interface{}{
			"host":   "example.net",
			"secret": []byte("binary\x00payload"),
		},
	}

	if err := store.Put(ctx, "creds", "session", doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "creds", "session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	gotKey, ok := got["noiseKey"].([]byte)
	if !ok {
		t.Fatalf("noiseKey decoded as %T, want []byte", got["noiseKey"])
	}
	if !bytes.Equal(gotKey, noiseKey) {
		t.Errorf("noiseKey round trip mismatch: %v != %v", gotKey, noiseKey)
	}
	server, ok := got["server"].(map[string]interface{})
	if !ok {
		t.Fatalf("server decoded as %T", got["server"])
	}
	if secret, _ := server["secret"].([]byte); !bytes.Equal(secret, []byte("binary\x00payload")) {
		t.Errorf("nested binary mismatch: %v", server["secret"])
	}

	ids, err := store.Keys(ctx, "creds")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(ids) != 1 || ids[0] != "session" {
		t.Errorf("keys = %v, want [session]", ids)
	}

	if err := store.Wipe(ctx, "creds"); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, err := store.Get(ctx, "creds", "session"); !domainErrors.IsNotFound(err) {
		t.Errorf("get after wipe error = %v, want not-found", err)
	}
}

func TestSessionLockConflict(t *testing.T) {
	db := newTestDB(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	holder := NewSessionLock(db, logger, "nightdesk")
	if err := holder.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	rival := NewSessionLock(db, logger, "nightdesk")
	if err := rival.Acquire(ctx); !domainErrors.IsSessionConflict(err) {
		t.Errorf("rival acquire error = %v, want session conflict", err)
	}

	if err := holder.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	if err := rival.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := rival.Release(ctx); err != nil {
		t.Fatalf("rival release: %v", err)
	}
}

func TestReportQueueLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormReportRepository(db)
	ctx := context.Background()

	if _, err := repo.Lease(ctx); !domainErrors.IsNotFound(err) {
		t.Errorf("lease on empty queue error = %v, want not-found", err)
	}

	item := &entity.ReportItem{
		ContactPhone:      "carol@s.whatsapp.net",
		DisplayName:       "Carol",
		ConversationID:    "conv-1",
		LastUserMessageAt: time.Now().UTC(),
	}
	if err := repo.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := repo.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased.Status != entity.QueueProcessing {
		t.Errorf("leased status = %s, want processing", leased.Status)
	}

	// 失败后重试次数未耗尽，回到 pending
	if err := repo.Fail(ctx, leased, "llm timeout", 3); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if leased.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", leased.RetryCount)
	}

	again, err := repo.Lease(ctx)
	if err != nil {
		t.Fatalf("re-lease: %v", err)
	}
	if again.ID != leased.ID {
		t.Errorf("re-leased a different item: %s", again.ID)
	}

	if err := repo.Complete(ctx, again.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	pending, err := repo.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending count = %d, want 0", pending)
	}
}

func TestReportFailExhaustsRetries(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormReportRepository(db)
	ctx := context.Background()

	item := &entity.ReportItem{ContactPhone: "dave@s.whatsapp.net", LastUserMessageAt: time.Now().UTC()}
	if err := repo.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 0; i < 3; i++ {
		leased, err := repo.Lease(ctx)
		if err != nil {
			t.Fatalf("lease %d: %v", i, err)
		}
		if err := repo.Fail(ctx, leased, "still broken", 3); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}

	if _, err := repo.Lease(ctx); !domainErrors.IsNotFound(err) {
		t.Errorf("lease after exhaustion error = %v, want not-found (item terminal)", err)
	}
}
