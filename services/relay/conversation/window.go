// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"strings"
)

// attachedDocTemplate wraps document text supplied with the current
// request. Bilingual so both Korean-first and English-first models
// follow it.
const attachedDocTemplate = `다음은 사용자가 첨부한 문서의 내용입니다. 이 문서를 참고하여 질문에 답변해주세요.
--- 첨부 문서 시작 ---
%s
--- 첨부 문서 끝 ---
위 문서 내용을 바탕으로 사용자의 질문에 정확하고 도움이 되는 답변을 제공해주세요.`

// recalledDocTemplate wraps document text recovered from an earlier
// turn in the same session, so a document attached once keeps informing
// later questions.
const recalledDocTemplate = `(이전 대화에서 첨부된 문서 '%s')
다음은 사용자가 이전에 첨부한 문서(%s)의 내용입니다. 계속해서 이 문서를 참고하여 답변해주세요.
--- 첨부 문서 시작 (%s) ---
%s
--- 첨부 문서 끝 ---
`

// standingInstructions maps a model identifier to a system directive
// appended to every request for that model. deepseek-r1 tends to drift
// into Chinese on Korean questions without the language directive.
var standingInstructions = map[string]string{
	"deepseek-r1:32b": `You are a helpful assistant.
Please answer in the same language as the user's question. (사용자의 질문과 같은 언어로 답변해 주세요).
When answering in Korean, use Hangul primarily.
However, you may use Chinese characters (Hanja) in parentheses if it helps clarify meanings or is appropriate for the context (e.g. idioms, technical terms).
(한국어로 답변할 때는 주로 한글을 사용하되, 의미 명확화가 필요하거나 문맥상 적절한 경우(예: 사자성어, 전문용어)에는 괄호 안에 한자를 병기할 수 있습니다.)`,
}

// fallbackAttachmentName labels recalled documents whose original
// filename was not recorded.
const fallbackAttachmentName = "Unknown File"

// BuildWindow assembles the bounded message sequence to send to the
// backend for one turn.
//
// # Description
//
// The window is built in three parts: an optional system message, a
// trailing slice of prior history, and the new turn. The system message
// comes from documentText when supplied, otherwise from the most recent
// history turn carrying an attached document; the model's standing
// instruction (if any) is appended to it with a blank-line separator.
// The model's token ceiling, minus the system message and new turn
// costs, bounds how much history is resent: history is walked newest to
// oldest and inclusion stops at the first turn that would overflow the
// remaining budget. Recency wins over completeness.
//
// # Inputs
//
//   - history: prior turns in chronological order
//   - newTurn: the incoming message, always included
//   - documentText: extracted text of a document attached to this
//     request, or empty
//   - model: backend model identifier, resolves the token ceiling
//
// # Outputs
//
//   - []Message: system message (if any), selected history in
//     chronological order, then newTurn
//
// # Limitations
//
//   - Only user and assistant turns are eligible for resending;
//     multi-party participant and system turns are excluded.
//   - A single oversized history turn truncates everything older than
//     itself, but the system message and new turn are never truncated.
func BuildWindow(history []Turn, newTurn Message, documentText, model string) []Message {
	maxTokens := ContextLimit(model)

	systemContent := buildDocumentPreamble(history, documentText)
	if instruction, ok := standingInstructions[model]; ok {
		if systemContent != "" {
			systemContent += "\n\n" + instruction
		} else {
			systemContent = instruction
		}
	}

	var systemMsg *Message
	systemTokens := 0
	if systemContent != "" {
		systemMsg = &Message{Role: RoleSystem, Content: systemContent}
		systemTokens = EstimateMessageTokens(*systemMsg)
	}

	remaining := maxTokens - systemTokens - EstimateMessageTokens(newTurn)
	if remaining <= 0 {
		// The irreducible pair: over budget already, but the system
		// preamble and the new turn are never dropped.
		out := make([]Message, 0, 2)
		if systemMsg != nil {
			out = append(out, *systemMsg)
		}
		return append(out, newTurn)
	}

	eligible := make([]Message, 0, len(history))
	for _, t := range history {
		if t.Role == RoleUser || t.Role == RoleAssistant {
			eligible = append(eligible, Message{Role: t.Role, Content: t.Content})
		}
	}

	// Greedy newest-first inclusion. Stop, do not skip, at the first
	// turn that would overflow: selections under a larger budget must
	// remain supersets of selections under a smaller one.
	included := 0
	used := 0
	for i := len(eligible) - 1; i >= 0; i-- {
		cost := EstimateMessageTokens(eligible[i])
		if used+cost > remaining {
			break
		}
		used += cost
		included++
	}
	selected := eligible[len(eligible)-included:]

	out := make([]Message, 0, len(selected)+2)
	if systemMsg != nil {
		out = append(out, *systemMsg)
	}
	out = append(out, selected...)
	return append(out, newTurn)
}

// buildDocumentPreamble produces the document portion of the system
// message: the current request's document if present, otherwise the
// most recently attached document found in history (first match
// scanning backwards wins). Returns "" when neither exists.
func buildDocumentPreamble(history []Turn, documentText string) string {
	if documentText != "" {
		return fmt.Sprintf(attachedDocTemplate, documentText)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].AttachedFileContext == "" {
			continue
		}
		name := history[i].AttachedFileName
		if strings.TrimSpace(name) == "" {
			name = fallbackAttachmentName
		}
		return fmt.Sprintf(recalledDocTemplate, name, name, name, history[i].AttachedFileContext)
	}
	return ""
}
