package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

func TestClassifyByStatusCode(t *testing.T) {
	cause := errors.New("upstream said no")

	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"429 is rate limited", 429, func(err error) bool {
			_, ok := domainErrors.IsRateLimited(err)
			return ok
		}},
		{"503 is overloaded", 503, domainErrors.IsOverloaded},
		{"529 is overloaded", 529, domainErrors.IsOverloaded},
		{"400 is invalid credential", 400, domainErrors.IsInvalidCredential},
		{"401 is invalid credential", 401, domainErrors.IsInvalidCredential},
		{"403 is invalid credential", 403, domainErrors.IsInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ClassifyProviderError(tt.status, cause); !tt.check(err) {
				t.Errorf("classification of status %d = %v", tt.status, err)
			}
		})
	}
}

func TestClassifyByMessageText(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"quota text", errors.New("RESOURCE_EXHAUSTED: quota exceeded for model"), func(err error) bool {
			_, ok := domainErrors.IsRateLimited(err)
			return ok
		}},
		{"invalid key text", errors.New("API_KEY_INVALID: check your credentials"), domainErrors.IsInvalidCredential},
		{"overloaded text", errors.New("the model is overloaded, try later"), domainErrors.IsOverloaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ClassifyProviderError(0, tt.err); !tt.check(err) {
				t.Errorf("classification = %v", err)
			}
		})
	}
}

func TestClassifyTimeout(t *testing.T) {
	err := ClassifyProviderError(0, fmt.Errorf("call: %w", context.DeadlineExceeded))
	if !domainErrors.Is(err, domainErrors.CodeTimeoutExceeded) {
		t.Errorf("deadline exceeded classified as %v, want timeout", err)
	}
}

func TestExtractRetryAfter(t *testing.T) {
	tests := []struct {
		text string
		want time.Duration
	}{
		{`googleapi: Error 429: "retryDelay": "37s"`, 37 * time.Second},
		{"please retry after 12 seconds", 12 * time.Second},
		{"quota exceeded, no hint here", defaultRetryAfter},
	}
	for _, tt := range tests {
		retryAfter, ok := domainErrors.IsRateLimited(ClassifyProviderError(429, errors.New(tt.text)))
		if !ok {
			t.Fatalf("%q not classified as rate limited", tt.text)
		}
		if retryAfter != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.text, retryAfter, tt.want)
		}
	}
}
