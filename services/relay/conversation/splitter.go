package conversation

import "strings"

// Reasoning block delimiters emitted by reasoning-capable models.
const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// SplitReasoning separates a delimited reasoning preamble from the
// final answer in accumulated model output.
//
// Three cases:
//   - no opening delimiter: the input is the answer, no reasoning
//   - both delimiters: text between them (trimmed) is the reasoning,
//     text after the closer (trimmed) is the answer
//   - opener without closer (stream cut mid-reasoning): everything
//     after the opener (trimmed) is reasoning and the answer is empty;
//     an incomplete reasoning block is never promoted to an answer
func SplitReasoning(raw string) (content, reasoning string) {
	start := strings.Index(raw, thinkOpenTag)
	if start == -1 {
		return raw, ""
	}

	rest := raw[start+len(thinkOpenTag):]
	end := strings.Index(rest, thinkCloseTag)
	if end == -1 {
		return "", strings.TrimSpace(rest)
	}

	reasoning = strings.TrimSpace(rest[:end])
	content = strings.TrimSpace(rest[end+len(thinkCloseTag):])
	return content, reasoning
}
