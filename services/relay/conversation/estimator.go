package conversation

// Token estimation ratios in characters per token. Hangul text averages
// roughly 1.5-2 characters per token on the models we serve; Latin and
// other scripts average around 4.
const (
	denseCharsPerToken = 1.8
	otherCharsPerToken = 4.0
)

// perMessageOverhead approximates the structural framing tokens the
// backend adds around each message (role tag, separators).
const perMessageOverhead = 4

// isDenseRune reports whether r belongs to a dense script for token
// estimation. Covers Hangul syllables (U+AC00..U+D7A3) and Hangul
// compatibility jamo (U+3131..U+318E).
func isDenseRune(r rune) bool {
	return (r >= 0xAC00 && r <= 0xD7A3) || (r >= 0x3131 && r <= 0x318E)
}

// EstimateTokens approximates the token count of mixed-script text.
//
// # Description
//
// Each rune is classified as dense-script or other-script, the two
// counts are divided by their per-script ratios, the partial estimates
// are summed and floored, and a safety margin of one token is added.
// Empty text estimates to zero. Deterministic and pure.
//
// # Examples
//
//	EstimateTokens("")            // 0
//	EstimateTokens("hello world") // 11 runes / 4.0 -> 2, +1 = 3
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	dense := 0
	total := 0
	for _, r := range text {
		total++
		if isDenseRune(r) {
			dense++
		}
	}
	other := total - dense

	estimate := float64(dense)/denseCharsPerToken + float64(other)/otherCharsPerToken
	return int(estimate) + 1
}

// EstimateMessageTokens approximates the token cost of one structured
// message: the content estimate plus the fixed per-message overhead.
func EstimateMessageTokens(msg Message) int {
	return perMessageOverhead + EstimateTokens(msg.Content)
}

// estimateMessagesTokens sums EstimateMessageTokens over a message list.
func estimateMessagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}
