package llm

import "context"

// Message 对话消息，Role 为 user / model
type Message struct {
	Role    string
	Content string
}

// ToolSpec 暴露给模型的工具声明
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ProviderRequest 一次底层模型调用
type ProviderRequest struct {
	APIKey    string
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	ForceJSON bool
}

// ProviderResponse 模型输出：纯文本或一次工具调用
type ProviderResponse struct {
	Text     string
	ToolName string
	ToolArgs map[string]interface{}
}

// Provider 底层模型后端。实现负责单次 HTTP 调用，
// 错误需经 ClassifyProviderError 归类后返回。
type Provider interface {
	Generate(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)
}
