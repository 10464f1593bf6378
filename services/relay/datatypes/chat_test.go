// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
)

// =============================================================================
// ChatStreamRequest Validation Tests
// =============================================================================

func TestChatStreamRequest_Validate_Success(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: "Hello"},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestChatStreamRequest_Validate_NilMessages(t *testing.T) {
	req := &ChatStreamRequest{}

	if err := req.Validate(); err == nil {
		t.Error("expected error for nil messages, got nil")
	}
}

func TestChatStreamRequest_Validate_EmptyMessages(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for empty messages, got nil")
	}
}

func TestChatStreamRequest_Validate_TooManyMessages(t *testing.T) {
	messages := make([]ChatMessage, MaxMessagesPerRequest+1)
	for i := range messages {
		messages[i] = ChatMessage{Role: "user", Content: "Message"}
	}

	req := &ChatStreamRequest{Messages: messages}

	if err := req.Validate(); err == nil {
		t.Errorf("expected error for %d messages (max is %d), got nil",
			len(messages), MaxMessagesPerRequest)
	}
}

func TestChatStreamRequest_Validate_ExactlyMaxMessages(t *testing.T) {
	messages := make([]ChatMessage, MaxMessagesPerRequest)
	for i := range messages {
		messages[i] = ChatMessage{Role: "user", Content: "Message"}
	}

	req := &ChatStreamRequest{Messages: messages}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request with exactly %d messages, got error: %v",
			MaxMessagesPerRequest, err)
	}
}

func TestChatStreamRequest_Validate_MissingRole(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Content: "Hello"},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for message without role, got nil")
	}
}

func TestChatStreamRequest_Validate_ParticipantRoleAccepted(t *testing.T) {
	// Multi-party sessions echo participant roles back in history.
	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "skeptic", Content: "Prove it."},
			{Role: "user", Content: "Hello"},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected participant role to be accepted, got error: %v", err)
	}
}

func TestChatStreamRequest_Validate_EmptyContentAllowed(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: ""},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected empty content to be accepted, got error: %v", err)
	}
}

func TestChatStreamRequest_Validate_ContentTooLarge(t *testing.T) {
	largeContent := strings.Repeat("x", MaxMessageContentBytes+1)

	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: largeContent},
		},
	}

	if err := req.Validate(); err == nil {
		t.Errorf("expected error for content > %d bytes, got nil", MaxMessageContentBytes)
	}
}

func TestChatStreamRequest_Validate_ContentExactlyMaxSize(t *testing.T) {
	exactContent := strings.Repeat("x", MaxMessageContentBytes)

	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: exactContent},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request with exactly %d bytes content, got error: %v",
			MaxMessageContentBytes, err)
	}
}

func TestChatStreamRequest_Validate_ContentLimitCountsBytes(t *testing.T) {
	// 11_000 Hangul syllables are 11_000 runes but 33_000 UTF-8 bytes,
	// over the 32KB cap. The limit must be enforced on bytes.
	hangul := strings.Repeat("가", 11_000)

	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: hangul},
		},
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for multi-byte content over the byte cap, got nil")
	}
}

func TestChatStreamRequest_Validate_InvalidSessionID(t *testing.T) {
	req := &ChatStreamRequest{
		Messages:  []ChatMessage{{Role: "user", Content: "Hello"}},
		SessionID: "not-a-uuid",
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid session_id, got nil")
	}
}

func TestChatStreamRequest_Validate_ValidSessionID(t *testing.T) {
	req := &ChatStreamRequest{
		Messages:  []ChatMessage{{Role: "user", Content: "Hello"}},
		SessionID: "550e8400-e29b-41d4-a716-446655440000",
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request with session_id, got error: %v", err)
	}
}

func TestChatStreamRequest_Validate_OmittedSessionID(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hello"}},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request without session_id, got error: %v", err)
	}
}

// =============================================================================
// EnsureDefaults Tests
// =============================================================================

func TestChatStreamRequest_EnsureDefaults_SetsModel(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hello"}},
	}

	req.EnsureDefaults()

	if req.Model != DefaultChatModel {
		t.Errorf("expected default model %q, got %q", DefaultChatModel, req.Model)
	}
}

func TestChatStreamRequest_EnsureDefaults_PreservesModel(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hello"}},
		Model:    "exaone4.0:32b",
	}

	req.EnsureDefaults()

	if req.Model != "exaone4.0:32b" {
		t.Errorf("expected model to be preserved as exaone4.0:32b, got %q", req.Model)
	}
}

// =============================================================================
// NewestMessage Tests
// =============================================================================

func TestChatStreamRequest_NewestMessage(t *testing.T) {
	req := &ChatStreamRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: "First"},
			{Role: "assistant", Content: "Second"},
			{Role: "user", Content: "Third"},
		},
	}

	newest := req.NewestMessage()

	if newest.Role != "user" || newest.Content != "Third" {
		t.Errorf("expected newest message {user Third}, got {%s %s}",
			newest.Role, newest.Content)
	}
}

// =============================================================================
// Constants Tests
// =============================================================================

func TestConstants(t *testing.T) {
	if MaxMessageContentBytes != 32*1024 {
		t.Errorf("expected MaxMessageContentBytes to be 32KB, got %d", MaxMessageContentBytes)
	}
	if MaxMessagesPerRequest != 100 {
		t.Errorf("expected MaxMessagesPerRequest to be 100, got %d", MaxMessagesPerRequest)
	}
	if MaxUploadBytes != 10*1024*1024 {
		t.Errorf("expected MaxUploadBytes to be 10MB, got %d", MaxUploadBytes)
	}
	if MaxDocumentChars != 50_000 {
		t.Errorf("expected MaxDocumentChars to be 50000, got %d", MaxDocumentChars)
	}
}
