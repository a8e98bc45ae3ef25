package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider Gemini generateContent 后端
type Provider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewProvider 创建 Gemini 后端，baseURL 为空时用官方端点
func NewProvider(baseURL string, logger *zap.Logger) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// 请求 / 响应线格式

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate 调用 generateContent 并归一化输出
func (p *Provider) Generate(ctx context.Context, req *llm.ProviderRequest) (*llm.ProviderResponse, error) {
	body := p.buildRequest(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeInternal, "gemini request encode failed", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, req.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeInternal, "gemini request build failed", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyProviderError(0, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, llm.ClassifyProviderError(httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyProviderError(httpResp.StatusCode,
			fmt.Errorf("gemini status %d: %s", httpResp.StatusCode, string(raw)))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeParseFailure, "gemini response decode failed", err)
	}
	if decoded.Error != nil {
		return nil, llm.ClassifyProviderError(decoded.Error.Code,
			fmt.Errorf("gemini error %s: %s", decoded.Error.Status, decoded.Error.Message))
	}
	if len(decoded.Candidates) == 0 {
		return nil, domainErrors.New(domainErrors.CodeParseFailure, "gemini returned no candidates")
	}

	out := &llm.ProviderResponse{}
	for _, part := range decoded.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			out.ToolName = part.FunctionCall.Name
			out.ToolArgs = part.FunctionCall.Args
			return out, nil
		}
		out.Text += part.Text
	}
	return out, nil
}

func (p *Provider) buildRequest(req *llm.ProviderRequest) *geminiRequest {
	body := &geminiRequest{}

	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role != "user" && role != "model" {
			role = "user"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if req.ForceJSON {
		body.GenerationConfig = &geminiGenerationConfig{ResponseMimeType: "application/json"}
	}

	return body
}
