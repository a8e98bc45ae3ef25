package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

// Invocation 工具调用的身份上下文
type Invocation struct {
	Contact *entity.Contact
	IsOwner bool
}

// Result 工具执行结果。Error 非空表示业务层面失败，
// 文本会拼回对话让模型自行处理，不中断回复循环。
type Result struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Tool 固定工具接口。OwnerOnly 的工具对普通联系人不可见也不可调。
type Tool interface {
	Name() string
	Description() string
	OwnerOnly() bool
	// Schema 参数的 JSON schema（gemini functionDeclarations 形状）
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, inv *Invocation) (*Result, error)
}

// Registry 工具注册表
type Registry interface {
	Register(t Tool) error
	Get(name string) (Tool, bool)
	// List 按调用方身份过滤，owner 看到全部
	List(isOwner bool) []Tool
}

// InMemoryRegistry 进程内注册表
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewInMemoryRegistry 创建空注册表
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

// Register 注册工具，重名报错
func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool already registered: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get 按名称查找
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List 返回调用方可见的工具，按名称排序保证提示词稳定
func (r *InMemoryRegistry) List(isOwner bool) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.OwnerOnly() && !isOwner {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
