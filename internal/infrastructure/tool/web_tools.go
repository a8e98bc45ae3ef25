package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
)

const (
	browseBodyLimit = 512 << 10 // 截断上限，避免把整站塞进提示词
	browseTextLimit = 4000
	browseUserAgent = "Mozilla/5.0 (compatible; nightdesk/1.0)"
)

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</\w+>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// BrowseURLTool 抓取网页正文，仅 owner 可用
type BrowseURLTool struct {
	client *http.Client
}

// NewBrowseURLTool 创建网页抓取工具
func NewBrowseURLTool() *BrowseURLTool {
	return &BrowseURLTool{client: &http.Client{Timeout: 20 * time.Second}}
}

func (t *BrowseURLTool) Name() string { return "browse_url" }

func (t *BrowseURLTool) OwnerOnly() bool { return true }

func (t *BrowseURLTool) Description() string {
	return "Fetch a web page and return its readable text content."
}

func (t *BrowseURLTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute http(s) URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *BrowseURLTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	url, _ := args["url"].(string)
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return &Result{Error: "url must start with http:// or https://"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Result{Error: "invalid url"}, nil
	}
	req.Header.Set("User-Agent", browseUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return &Result{Error: fmt.Sprintf("fetch failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Result{Error: fmt.Sprintf("fetch failed: status %d", resp.StatusCode)}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, browseBodyLimit))
	if err != nil {
		return &Result{Error: "read failed"}, nil
	}

	text := extractText(string(raw))
	if len(text) > browseTextLimit {
		text = text[:browseTextLimit] + "…"
	}
	if strings.TrimSpace(text) == "" {
		return &Result{Result: "The page contained no readable text."}, nil
	}
	return &Result{Result: text}, nil
}

// extractText 粗粒度去标签，够模型读即可
func extractText(html string) string {
	html = scriptPattern.ReplaceAllString(html, " ")
	html = tagPattern.ReplaceAllString(html, "\n")

	lines := strings.Split(html, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return blankPattern.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}

// SearchClient 外部搜索后端
type SearchClient interface {
	Search(ctx context.Context, query string) (string, error)
}

// SearchWebTool 外部搜索，仅 owner 可用。
// 没有配置搜索后端时报告不可用，不影响其余工具。
type SearchWebTool struct {
	client SearchClient
}

// NewSearchWebTool 创建搜索工具，client 可为 nil
func NewSearchWebTool(client SearchClient) *SearchWebTool {
	return &SearchWebTool{client: client}
}

func (t *SearchWebTool) Name() string { return "search_web" }

func (t *SearchWebTool) OwnerOnly() bool { return true }

func (t *SearchWebTool) Description() string {
	return "Search the web for current information."
}

func (t *SearchWebTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchWebTool) Execute(ctx context.Context, args map[string]interface{}, inv *domaintool.Invocation) (*Result, error) {
	if t.client == nil {
		return &Result{Error: "web search is not configured"}, nil
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return &Result{Error: "query is required"}, nil
	}

	answer, err := t.client.Search(ctx, query)
	if err != nil {
		return &Result{Error: fmt.Sprintf("search failed: %v", err)}, nil
	}
	return &Result{Result: answer}, nil
}
