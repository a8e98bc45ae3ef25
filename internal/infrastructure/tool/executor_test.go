package tool

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
)

type echoTool struct {
	ownerOnly bool
}

func (t *echoTool) Name() string {
	if t.ownerOnly {
		return "owner_echo"
	}
	return "echo"
}
func (t *echoTool) OwnerOnly() bool      { return t.ownerOnly }
func (t *echoTool) Description() string  { return "echoes its input" }
func (t *echoTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	text, _ := args["text"].(string)
	return &Result{Result: "echo: " + text}, nil
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	registry := domaintool.NewInMemoryRegistry()
	if err := registry.Register(&echoTool{}); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	if err := registry.Register(&echoTool{ownerOnly: true}); err != nil {
		t.Fatalf("register owner_echo: %v", err)
	}
	logger, _ := zap.NewDevelopment()
	return NewExecutor(registry, logger)
}

func TestExecutorRunsTool(t *testing.T) {
	exec := newTestExecutor(t)
	inv := &domaintool.Invocation{Contact: &entity.Contact{Phone: "a@s.whatsapp.net"}}

	out := exec.Run(context.Background(), "echo", map[string]interface{}{"text": "hi"}, inv)
	if out != "echo: hi" {
		t.Errorf("Run = %q, want echo: hi", out)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	exec := newTestExecutor(t)

	out := exec.Run(context.Background(), "no_such_tool", nil, nil)
	if !strings.HasPrefix(out, "error:") {
		t.Errorf("Run = %q, want error text", out)
	}
}

func TestExecutorGatesOwnerOnlyTools(t *testing.T) {
	exec := newTestExecutor(t)

	stranger := &domaintool.Invocation{Contact: &entity.Contact{Phone: "x@s.whatsapp.net"}}
	out := exec.Run(context.Background(), "owner_echo", map[string]interface{}{"text": "secret"}, stranger)
	if !strings.Contains(out, "not available") {
		t.Errorf("non-owner call = %q, want refusal", out)
	}

	owner := &domaintool.Invocation{IsOwner: true}
	out = exec.Run(context.Background(), "owner_echo", map[string]interface{}{"text": "secret"}, owner)
	if out != "echo: secret" {
		t.Errorf("owner call = %q, want echo", out)
	}
}

func TestSpecsFilterByIdentity(t *testing.T) {
	exec := newTestExecutor(t)

	ownerSpecs := exec.Specs(true)
	if len(ownerSpecs) != 2 {
		t.Errorf("owner sees %d tools, want 2", len(ownerSpecs))
	}
	strangerSpecs := exec.Specs(false)
	if len(strangerSpecs) != 1 || strangerSpecs[0].Name != "echo" {
		t.Errorf("stranger specs = %+v, want only echo", strangerSpecs)
	}
}
