package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

const defaultRetryAfter = 60 * time.Second

// retryDelayPattern 从配额错误文本里提取建议等待秒数，
// 形如 "retryDelay": "37s" 或 "retry after 37 seconds"
var retryDelayPattern = regexp.MustCompile(`(?i)retry[^0-9]*(\d+(?:\.\d+)?)\s*s`)

// rateLimitMarkers 各家 provider 限流响应里出现过的片段
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"quota exceeded",
	"resource_exhausted",
	"too many requests",
}

var overloadMarkers = []string{
	"503",
	"overloaded",
	"unavailable",
	"capacity",
}

var credentialMarkers = []string{
	"api_key_invalid",
	"api key not valid",
	"invalid api key",
	"unauthorized",
	"permission denied",
	"401",
	"403",
	"400",
}

// ClassifyProviderError 把 provider 的原始错误归类为网关错误码。
// 先按 HTTP 状态匹配，再退回到错误文本匹配；都不命中按瞬态处理。
func ClassifyProviderError(statusCode int, err error) error {
	if err == nil {
		return nil
	}

	switch statusCode {
	case 429:
		return domainErrors.NewRateLimited(extractRetryAfter(err.Error()), err)
	case 503, 529:
		return domainErrors.NewOverloaded(err)
	case 400, 401, 403:
		return domainErrors.NewInvalidCredential(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domainErrors.Wrap(domainErrors.CodeTimeoutExceeded, "provider call timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domainErrors.Wrap(domainErrors.CodeTimeoutExceeded, "provider call timed out", err)
	}

	text := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return domainErrors.NewRateLimited(extractRetryAfter(err.Error()), err)
		}
	}
	for _, marker := range credentialMarkers {
		if strings.Contains(text, marker) {
			return domainErrors.NewInvalidCredential(err)
		}
	}
	for _, marker := range overloadMarkers {
		if strings.Contains(text, marker) {
			return domainErrors.NewOverloaded(err)
		}
	}

	return domainErrors.Wrap(domainErrors.CodeInternal, "provider call failed", err)
}

// extractRetryAfter 解析建议冷却时长，解析不出用默认 60s
func extractRetryAfter(text string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(text)
	if len(m) == 2 {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultRetryAfter
}
