// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the relay
// service.
//
// This file contains the streaming chat request accepted by
// POST /api/chat/stream. Session history shapes live in session.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Input Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message
	// content. Checked in bytes so multi-byte text cannot dodge it.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a
	// chat request.
	MaxMessagesPerRequest = 100

	// MaxUploadBytes is the maximum accepted size of an uploaded
	// document file.
	MaxUploadBytes = 10 * 1024 * 1024 // 10MB

	// MaxDocumentChars is the maximum number of characters of extracted
	// document text carried into a conversation. Longer documents are
	// truncated, not rejected.
	MaxDocumentChars = 50_000
)

// DefaultChatModel is used when a chat request names no model.
const DefaultChatModel = "deepseek-r1:32b"

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for relay datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Streaming Chat Request Types
// =============================================================================

// ChatMessage is one entry in a chat request's message list.
//
// # Fields
//
//   - Role: Required. Usually "user" or "assistant"; multi-party
//     sessions may echo participant roles back.
//   - Content: Message text, limited to 32KB. Empty content is
//     accepted and forwarded as-is.
type ChatMessage struct {
	Role    string `json:"role" validate:"required"`
	Content string `json:"content" validate:"maxbytes"`
}

// ChatStreamRequest represents the body of POST /api/chat/stream.
//
// # Description
//
// ChatStreamRequest carries the conversation as the client sees it plus
// routing fields. Only the newest message matters to the relay: when a
// session exists, stored history supersedes the client-echoed entries,
// so the earlier list elements are accepted for compatibility but
// otherwise ignored.
//
// # Fields
//
//   - Messages: Required. 1-100 entries, each validated; the last entry
//     is treated as the user turn for this request.
//   - Model: Optional. Backend model identifier. Defaults to
//     DefaultChatModel via EnsureDefaults.
//   - SessionID: Optional. UUID v4 of the session to continue. Absent
//     or unknown IDs start a new session.
//   - DocumentContext: Optional. Extracted text of a document attached
//     to this request. Truncated to MaxDocumentChars by the handler.
//   - AttachedFileName: Optional. Display name of the attached
//     document, persisted with the user turn.
//
// # Validation
//
// Uses go-playground/validator:
//   - Messages: required, 1-100 elements, each element validated
//   - Messages[].Role: required
//   - Messages[].Content: max 32768 bytes (32KB)
//   - SessionID: valid UUID v4 when present
type ChatStreamRequest struct {
	Messages         []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	Model            string        `json:"model"`
	SessionID        string        `json:"session_id,omitempty" validate:"omitempty,uuid4"`
	DocumentContext  string        `json:"document_context,omitempty"`
	AttachedFileName string        `json:"attached_file_name,omitempty"`
}

// Validate validates the ChatStreamRequest fields.
//
// This method should be called after binding the JSON request and
// before NewestMessage, which relies on the non-empty guarantee.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
func (r *ChatStreamRequest) EnsureDefaults() {
	if r.Model == "" {
		r.Model = DefaultChatModel
	}
}

// NewestMessage returns the last entry in the message list, the turn
// the relay answers. Call Validate first; it guarantees the list is
// non-empty.
func (r *ChatStreamRequest) NewestMessage() ChatMessage {
	return r.Messages[len(r.Messages)-1]
}
