package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMarkdownToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string // 片段断言
	}{
		{"bold", "this is **important**", []string{"<b>important</b>"}},
		{"italic", "gently *nudge* them", []string{"<i>nudge</i>"}},
		{"code span", "run `go vet` first", []string{"<code>go vet</code>"}},
		{"heading becomes bold", "# Daily summary", []string{"<b>Daily summary</b>"}},
		{"escapes html", "compare 1 < 2 && 3 > 2", []string{"1 &lt; 2 &amp;&amp; 3 &gt; 2"}},
		{"link", "[docs](https://example.com)", []string{`<a href="https://example.com">docs</a>`}},
		{"fenced code", "```\nx := 1\n```", []string{"<pre><code>x := 1\n</code></pre>"}},
		{"bullet list", "- one\n- two", []string{"• one", "• two"}},
		{"ordered list", "1. first\n2. second", []string{"1. first", "2. second"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarkdownToTelegramHTML(tt.in)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("output %q missing %q", got, want)
				}
			}
		})
	}
}

func TestMarkdownToTelegramHTMLEmpty(t *testing.T) {
	if got := MarkdownToTelegramHTML(""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestStripFormatting(t *testing.T) {
	in := "**bold** and `code` and ```go\nblock\n``` done"
	got := StripFormatting(in)
	for _, banned := range []string{"**", "`"} {
		if strings.Contains(got, banned) {
			t.Errorf("formatting %q survived: %q", banned, got)
		}
	}
	if !strings.Contains(got, "bold") || !strings.Contains(got, "block") {
		t.Errorf("content lost: %q", got)
	}
}

func TestChunkMessageShortPassthrough(t *testing.T) {
	chunks := ChunkMessage("short message")
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestChunkMessageSplitsAtParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 600) // ~3000 chars
	text := para + "\n\n" + para

	chunks := ChunkMessage(text)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want split", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > MessageLimit {
			t.Errorf("chunk %d length %d exceeds limit", i, len(c))
		}
	}
}

func TestChunkMessageForcedSplitKeepsRunesIntact(t *testing.T) {
	// 3 字节 rune 与 4096 不对齐，硬截断必须退回 rune 边界
	text := strings.Repeat("你", MessageLimit)
	chunks := ChunkMessage(text)

	var rebuilt strings.Builder
	for i, c := range chunks {
		if len(c) > MessageLimit {
			t.Errorf("chunk %d length %d exceeds limit", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d splits a rune: %q...", i, c[:3])
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Error("chunks do not reassemble into the original text")
	}
}

func TestChunkMessageForcesSplitWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", MessageLimit*2+100)
	chunks := ChunkMessage(text)

	var total int
	for i, c := range chunks {
		if len(c) > MessageLimit {
			t.Errorf("chunk %d length %d exceeds limit", i, len(c))
		}
		total += len(c)
	}
	if total != len(text) {
		t.Errorf("content length %d, want %d", total, len(text))
	}
}
