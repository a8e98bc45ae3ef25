package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// fakeProvider 按密钥脚本化响应的测试后端
type fakeProvider struct {
	mu       sync.Mutex
	perKey   map[string]error // 该密钥固定返回的错误
	response *ProviderResponse
	calls    []string // 按顺序记录用过的密钥
}

func (f *fakeProvider) Generate(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.APIKey)
	if err, ok := f.perKey[req.APIKey]; ok && err != nil {
		return nil, err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &ProviderResponse{Text: "hello from " + req.APIKey}, nil
}

func (f *fakeProvider) keysUsed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestGateway(t *testing.T, provider Provider, keys []string) *Gateway {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	gw := NewGateway(provider, keys, &config.LLMConfig{
		Model:      "test-model",
		MinSpacing: time.Millisecond,
		RetryDelay: 5 * time.Millisecond,
		MaxRetries: 10,
		Timeout:    time.Second,
	}, logger)
	gw.Start()
	t.Cleanup(gw.Stop)
	return gw
}

func TestGatewaySpacingScalesWithKeyCount(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := &config.LLMConfig{Model: "test-model", MinSpacing: 4 * time.Second}

	cases := []struct {
		keys []string
		want time.Duration
	}{
		{[]string{"k1"}, 4 * time.Second},
		{[]string{"k1", "k2"}, 2 * time.Second},
		{[]string{"k1", "k2", "k3", "k4"}, time.Second},
		{make([]string, 16), minSpacingFloor}, // 摊薄到下限即止
	}
	for _, tc := range cases {
		gw := NewGateway(&fakeProvider{}, tc.keys, cfg, logger)
		if gw.spacing != tc.want {
			t.Errorf("keys=%d: spacing = %v, want %v", len(tc.keys), gw.spacing, tc.want)
		}
	}
}

func TestGatewayRotatesPastRateLimitedKey(t *testing.T) {
	provider := &fakeProvider{
		perKey: map[string]error{
			"k1": domainErrors.NewRateLimited(time.Hour, errors.New("quota exceeded")),
		},
	}
	gw := newTestGateway(t, provider, []string{"k1", "k2"})

	result, err := gw.GenerateReply(context.Background(), "sys", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if result.Kind != ReplyText || result.Content != "hello from k2" {
		t.Errorf("result = %+v, want text from k2", result)
	}

	used := provider.keysUsed()
	if len(used) != 2 || used[0] != "k1" || used[1] != "k2" {
		t.Errorf("keys used = %v, want [k1 k2]", used)
	}

	// k1 还在冷却，后续调用直接用 k2
	if _, err := gw.GenerateReply(context.Background(), "sys", nil, nil); err != nil {
		t.Fatalf("second GenerateReply: %v", err)
	}
	used = provider.keysUsed()
	if used[len(used)-1] != "k2" {
		t.Errorf("follow-up used %s, want k2", used[len(used)-1])
	}
}

func TestGatewayDisablesRejectedKey(t *testing.T) {
	provider := &fakeProvider{
		perKey: map[string]error{
			"bad": domainErrors.NewInvalidCredential(errors.New("API_KEY_INVALID")),
		},
	}
	gw := newTestGateway(t, provider, []string{"bad", "good"})

	if _, err := gw.GenerateReply(context.Background(), "sys", nil, nil); err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := gw.GenerateReply(context.Background(), "sys", nil, nil); err != nil {
			t.Fatalf("GenerateReply %d: %v", i, err)
		}
	}
	for _, key := range provider.keysUsed()[1:] {
		if key == "bad" {
			t.Error("disabled key was used again")
		}
	}
}

func TestGatewayAllKeysExhausted(t *testing.T) {
	limited := domainErrors.NewRateLimited(time.Hour, errors.New("quota exceeded"))
	provider := &fakeProvider{perKey: map[string]error{"k1": limited, "k2": limited}}
	gw := newTestGateway(t, provider, []string{"k1", "k2"})

	_, err := gw.GenerateReply(context.Background(), "sys", nil, nil)
	if !domainErrors.IsAllKeysExhausted(err) {
		t.Errorf("error = %v, want all keys exhausted", err)
	}
	if gw.KeysAvailable() {
		t.Error("KeysAvailable() = true with every key cooling")
	}
	if gw.EarliestAvailable().IsZero() {
		t.Error("EarliestAvailable should point at the cooldown end, not zero")
	}
}

func TestGatewaySerializesCalls(t *testing.T) {
	provider := &fakeProvider{}
	gw := newTestGateway(t, provider, []string{"k1"})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gw.GenerateReply(context.Background(), "sys", nil, nil); err != nil {
				t.Errorf("GenerateReply: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(provider.keysUsed()); got != 5 {
		t.Errorf("provider saw %d calls, want 5", got)
	}
	if !gw.Idle() {
		t.Error("gateway should be idle after all calls settle")
	}
}

func TestAnalyzeConversationFallsBackOnGarbage(t *testing.T) {
	provider := &fakeProvider{response: &ProviderResponse{Text: "not json at all"}}
	gw := newTestGateway(t, provider, []string{"k1"})

	analysis, err := gw.AnalyzeConversation(context.Background(), "user: hi\nagent: hello")
	if err != nil {
		t.Fatalf("AnalyzeConversation: %v", err)
	}
	if analysis.Urgency != 5 || analysis.Status != "active" {
		t.Errorf("fallback analysis = %+v, want urgency 5 / active", analysis)
	}
}

func TestAnalyzeConversationStripsFences(t *testing.T) {
	provider := &fakeProvider{response: &ProviderResponse{
		Text: "```json\n{\"urgency\": 8, \"status\": \"resolved\", \"summary\": \"meeting booked\"}\n```",
	}}
	gw := newTestGateway(t, provider, []string{"k1"})

	analysis, err := gw.AnalyzeConversation(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("AnalyzeConversation: %v", err)
	}
	if analysis.Urgency != 8 || analysis.Status != "resolved" || analysis.Summary != "meeting booked" {
		t.Errorf("analysis = %+v", analysis)
	}
}

func TestUpdateProfileNoChange(t *testing.T) {
	provider := &fakeProvider{response: &ProviderResponse{Text: `{"update": false, "summary": ""}`}}
	gw := newTestGateway(t, provider, []string{"k1"})

	patch, err := gw.UpdateProfile(context.Background(), "old summary", "transcript")
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if patch != "" {
		t.Errorf("patch = %q, want empty when model declines update", patch)
	}
}
