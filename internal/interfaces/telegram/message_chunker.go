package telegram

import "unicode/utf8"

// MessageLimit Bot API 单条消息长度上限
const MessageLimit = 4096

// ChunkMessage 把超长文本切成 Bot API 接受的块。
// 分割点优先级：段落边界 > 行边界 > 空格 > 硬截断。
func ChunkMessage(text string) []string {
	if len(text) <= MessageLimit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > MessageLimit {
		at := splitPoint(remaining)
		chunks = append(chunks, remaining[:at])
		remaining = trimLeadingSpace(remaining[at:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func splitPoint(text string) int {
	window := text[:MessageLimit]

	if idx := lastIndex(window, "\n\n"); idx >= MessageLimit/2 {
		return idx
	}
	if idx := lastIndex(window, "\n"); idx >= MessageLimit/2 {
		return idx
	}
	if idx := lastIndex(window, " "); idx >= MessageLimit/3 {
		return idx
	}

	// 硬截断退回到 rune 边界，不把多字节字符劈成两半
	at := MessageLimit
	for at > 0 && !utf8.RuneStart(text[at]) {
		at--
	}
	return at
}

func lastIndex(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	return s[i:]
}
