// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// =============================================================================
// STREAMING CHAT MODULE
// =============================================================================
//
// This module implements the relay's streaming chat endpoint. A request
// moves through five stages:
//
//  1. Resolve: map the optional session_id onto a stored session
//     (read-only; no rows are written during resolution).
//  2. Record: for existing sessions, persist the user's turn before the
//     backend is contacted.
//  3. Window: build the bounded message sequence from stored history,
//     the new turn and any attached document.
//  4. Relay: a producer goroutine drives the backend stream and queues
//     wire frames on a channel; the handler drains the channel onto the
//     SSE response while a heartbeat goroutine keeps the connection
//     alive.
//  5. Commit: persist the exchange on a cancellation-shielded context,
//     whether the stream ended normally, with an error, or by client
//     disconnect.
//
// The client-facing frame vocabulary is fixed: an optional session_id
// frame first, content frames, verbatim passthrough of unparseable
// backend lines, at most one error frame, and a literal [DONE]
// terminator. See sse_writer.go for the exact framing.
//
// =============================================================================

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orchid219/relay/services/llm"
	"github.com/orchid219/relay/services/relay/conversation"
	"github.com/orchid219/relay/services/relay/datatypes"
	"github.com/orchid219/relay/services/relay/observability"
	"github.com/orchid219/relay/services/relay/store"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second

	// commitTimeout bounds the persistence stage. The commit context is
	// detached from the request, so this is its only deadline.
	commitTimeout = 30 * time.Second

	// streamFrameBuffer is the relay channel capacity. Deep enough that
	// a slow client write does not immediately stall the backend read.
	streamFrameBuffer = 32

	// titleAnswerClip caps how much of the assistant's answer is quoted
	// in the title-generation prompt, in runes.
	titleAnswerClip = 2000
)

// chatTemperature is the sampling temperature for conversational
// requests.
var chatTemperature = float32(0.6)

var (
	TITLE_MAX_TOKENS  = 50
	TITLE_TEMPERATURE = 0.2
)

// =============================================================================
// Relay Frames
// =============================================================================

// frameKind discriminates the wire frames queued between the
// backend-driving goroutine and the transport drain loop.
type frameKind int

const (
	frameContent frameKind = iota
	frameRaw
	frameError
	frameDone
)

// streamFrame is one queued increment. Frames are drained in FIFO
// order; the channel they travel on is closed exactly once, by the
// producer, after the backend call has fully ended.
type streamFrame struct {
	kind frameKind
	text string
	raw  []byte
}

// =============================================================================
// Session Resolution
// =============================================================================

// SessionContext is the request-scoped resolution of an incoming
// session reference.
//
// # Description
//
// SessionContext carries everything the streaming flow needs to know
// about the session a request belongs to: the identifier (minted fresh
// or retained from the client), whether the session already exists in
// the store, the model-type tag that classifies it, and the full
// chronological turn history loaded for window building.
//
// # Fields
//
//   - ID: session identifier; for new sessions this is announced to the
//     client in the first SSE frame
//   - IsNew: true when no stored session matched the request
//   - ModelType: stored model-type for existing sessions, inferred from
//     the requested model for new ones
//   - History: prior turns in chronological order, empty for new sessions
//
// # Limitations
//
//   - Lifetime is one request. A SessionContext is owned by its handler
//     invocation and never shared across requests.
type SessionContext struct {
	ID        string
	IsNew     bool
	ModelType string
	History   []store.TurnRecord
}

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler defines the contract for handling streaming chat
// HTTP requests.
//
// # Description
//
// StreamingChatHandler abstracts the streaming chat endpoint, enabling
// different implementations and facilitating testing via mocks. The
// interface provides a Server-Sent Events (SSE) streaming endpoint
// backed by session persistence.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple
// goroutines. HTTP handlers are called concurrently by the Gin
// framework; each invocation owns its accumulator and session context.
//
// # Assumptions
//
//   - All dependencies are properly initialized before handler use
//   - Client supports SSE (EventSource or similar)
type StreamingChatHandler interface {
	// HandleChatStream processes conversational requests with SSE
	// streaming.
	//
	// # Description
	//
	// Handles POST /api/chat/stream requests. Resolves the session,
	// persists the user turn for existing sessions, streams the
	// backend's response as it is generated, and commits the completed
	// exchange after the stream ends.
	//
	// # Inputs
	//
	//   - c: Gin context containing the HTTP request.
	//
	// # Outputs
	//
	// SSE data frames:
	//
	//	data: {"session_id":"..."}   (new sessions, first frame)
	//	data: {"content":"..."}      (response fragments)
	//	data: {"error":"..."}        (stream failure, at most one)
	//	data: [DONE]                 (backend completion)
	//
	// # Limitations
	//
	//   - Errors during streaming are sent as frames, not HTTP errors.
	HandleChatStream(c *gin.Context)
}

// streamingChatHandler is the production implementation of
// StreamingChatHandler.
type streamingChatHandler struct {
	llmClient llm.StreamingChatClient
	store     *store.Store
	tracer    trace.Tracer
}

// NewStreamingChatHandler creates the production streaming chat
// handler.
//
// Panics if llmClient or st is nil (programming errors).
func NewStreamingChatHandler(llmClient llm.StreamingChatClient, st *store.Store) StreamingChatHandler {
	if llmClient == nil {
		panic("NewStreamingChatHandler: llmClient must not be nil")
	}
	if st == nil {
		panic("NewStreamingChatHandler: store must not be nil")
	}
	return &streamingChatHandler{
		llmClient: llmClient,
		store:     st,
		tracer:    otel.Tracer("orchid.relay.chat_streaming"),
	}
}

// =============================================================================
// Handler
// =============================================================================

func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Parse and validate the request.
	var req datatypes.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse streaming chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Streaming chat request validation failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	req.EnsureDefaults()

	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("request.message_count", len(req.Messages)),
		attribute.Bool("request.has_document", req.DocumentContext != ""),
	)

	// Step 2: Resolve the session reference (read-only).
	sess, err := h.resolveSession(ctx, req.SessionID, req.Model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session resolution failed")
		slog.Error("Failed to resolve session", "session_id", req.SessionID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Bool("session.is_new", sess.IsNew),
		attribute.String("session.model_type", sess.ModelType),
	)

	newest := req.NewestMessage()
	document := truncateDocument(req.DocumentContext)
	userTurn := store.TurnRecord{
		SessionID:           sess.ID,
		Role:                conversation.RoleUser,
		Content:             newest.Content,
		AttachedFileName:    req.AttachedFileName,
		AttachedFileContext: document,
	}

	// Step 3: For existing sessions the user turn is made durable before
	// the backend is contacted, so a disconnect mid-stream still leaves
	// the question on record. New sessions defer all writes to the
	// commit stage; an empty exchange never creates an orphan session.
	userTurnPersisted := false
	if !sess.IsNew {
		if _, err := h.store.InsertTurn(ctx, userTurn); err != nil {
			slog.Error("Failed to persist user turn before streaming",
				"session_id", sess.ID,
				"error", err,
			)
		} else {
			userTurnPersisted = true
		}
	}

	// Step 4: Build the bounded context window. History was loaded
	// before the user turn insert, so the window never carries the new
	// question twice.
	history := make([]conversation.Turn, 0, len(sess.History))
	for _, rec := range sess.History {
		history = append(history, conversation.Turn{
			Role:                rec.Role,
			Content:             rec.Content,
			AttachedFileName:    rec.AttachedFileName,
			AttachedFileContext: rec.AttachedFileContext,
		})
	}
	newTurn := conversation.Message{Role: conversation.RoleUser, Content: newest.Content}
	messages := conversation.BuildWindow(history, newTurn, document, req.Model)

	inputTokens := 0
	for _, msg := range messages {
		inputTokens += conversation.EstimateMessageTokens(msg)
	}
	span.SetAttributes(attribute.Int("llm.window_messages", len(messages)))

	// Step 5: The accumulator is required for persistence. Refuse the
	// stream if secure memory is unusable rather than serving answers
	// that silently vanish from history.
	accumulator, err := NewTokenAccumulator()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accumulator setup failed")
		slog.Error("Failed to create token accumulator", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "secure memory unavailable"})
		return
	}
	defer accumulator.Destroy()

	// Step 6: Switch the response to SSE.
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 7: A new session announces its identifier before any backend
	// content so the client can tag every following frame.
	if sess.IsNew {
		if err := sseWriter.WriteSessionID(sess.ID); err != nil {
			span.RecordError(err)
			slog.Error("Failed to write session id frame", "session_id", sess.ID, "error", err)
			return
		}
	}

	// Step 8: Start the heartbeat and the backend-driving goroutine.
	heartbeatDone := make(chan struct{})
	go runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	params := llm.GenerationParams{Temperature: &chatTemperature}
	client := h.llmClient.WithModel(req.Model)

	var tokenCount int32
	firstTokenTime := time.Time{}

	frames := make(chan streamFrame, streamFrameBuffer)
	streamDone := make(chan error, 1)
	go func() {
		defer close(frames)
		streamDone <- h.driveBackend(ctx, client, messages, params, frames, accumulator, &tokenCount, &firstTokenTime)
	}()

	// Step 9: Drain frames onto the response. After a write failure the
	// loop keeps draining so the producer never blocks on a dead client;
	// the canceled request context stops the backend read.
	writeFailed := false
	for frame := range frames {
		if writeFailed {
			continue
		}
		if err := writeStreamFrame(sseWriter, frame); err != nil {
			slog.Debug("Client write failed, draining remaining frames", "error", err)
			writeFailed = true
		}
	}
	streamErr := <-streamDone
	close(heartbeatDone)

	// Step 10: Record the stream outcome.
	finalTokens := int(atomic.LoadInt32(&tokenCount))
	span.SetAttributes(attribute.Int("stream.token_count", finalTokens))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokens(inputTokens, finalTokens, req.Model)
	}

	if streamErr != nil {
		span.RecordError(streamErr)
		if errors.Is(streamErr, context.Canceled) {
			span.SetStatus(codes.Error, "client disconnected")
			slog.Info("Client disconnected during stream",
				"session_id", sess.ID,
				"token_count", finalTokens,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
		} else {
			span.SetStatus(codes.Error, "LLM streaming failed")
			slog.Error("LLM streaming failed",
				"session_id", sess.ID,
				"error", streamErr,
				"token_count", finalTokens,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}
	} else {
		success = true
	}

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}

	// Step 11: Commit whatever accumulated. Runs for every outcome;
	// the commit context survives the client's disconnect.
	h.commitExchange(ctx, sess, userTurn, userTurnPersisted, req.Model, accumulator)
}

// =============================================================================
// Backend Producer
// =============================================================================

// driveBackend runs the backend streaming call and queues wire frames.
//
// # Description
//
// Runs in its own goroutine. Every backend event becomes at most one
// queued frame: content fragments are accumulated for persistence and
// queued for forwarding, unparseable lines are queued verbatim without
// touching the accumulator, the done signal queues the terminal frame.
// An in-stream backend error queues exactly one sanitized error frame;
// if the call itself fails without having reported one, the error frame
// is queued here before returning, so the client never sees a stream
// simply stop. Client cancellation is returned unchanged for the caller
// to classify.
//
// # Inputs
//
//   - ctx: request context; cancellation aborts the backend read
//   - client: model-bound backend client
//   - messages: the prepared context window
//   - params: generation options for this call
//   - frames: destination queue, closed by the calling goroutine's defer
//   - accumulator: persistence accumulator, written on content only
//   - tokenCount: atomic fragment counter
//   - firstTokenTime: set once, on the first content fragment
//
// # Outputs
//
//   - error: nil on clean completion, context.Canceled (possibly
//     wrapped) on disconnect, otherwise the backend failure
func (h *streamingChatHandler) driveBackend(
	ctx context.Context,
	client llm.StreamingChatClient,
	messages []conversation.Message,
	params llm.GenerationParams,
	frames chan<- streamFrame,
	accumulator TokenAccumulator,
	tokenCount *int32,
	firstTokenTime *time.Time,
) error {
	errorSent := false
	callback := func(event llm.StreamEvent) error {
		// Explicit cancellation check so a disconnected client stops
		// the backend read at the next event boundary.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenTime.IsZero() {
				*firstTokenTime = time.Now()
			}
			atomic.AddInt32(tokenCount, 1)
			if err := accumulator.Write(event.Content); err != nil {
				// Log but keep streaming; the user still gets the
				// response even if persistence later comes up short.
				slog.Warn("failed to accumulate token for persistence",
					"error", err,
					"accumulator_id", accumulator.ID(),
				)
			}
			return pushFrame(ctx, frames, streamFrame{kind: frameContent, text: event.Content})

		case llm.StreamEventThinking:
			// Reasoning never gets its own wire frame. Models that mark
			// reasoning inline stream it as ordinary content and the
			// splitter separates it at persistence time.
			return nil

		case llm.StreamEventRaw:
			return pushFrame(ctx, frames, streamFrame{kind: frameRaw, raw: event.Raw})

		case llm.StreamEventError:
			errorSent = true
			return pushFrame(ctx, frames, streamFrame{kind: frameError, text: sanitizeErrorForClient(event.Error)})

		case llm.StreamEventDone:
			return pushFrame(ctx, frames, streamFrame{kind: frameDone})
		}
		return nil
	}

	err := client.ChatStream(ctx, messages, params, callback)
	if err != nil {
		slog.Error("LLM ChatStream failed",
			"error", err,
			"token_count", atomic.LoadInt32(tokenCount),
		)
		if !errorSent && !errors.Is(err, context.Canceled) {
			_ = pushFrame(ctx, frames, streamFrame{kind: frameError, text: sanitizeErrorForClient(err.Error())})
		}
	}
	return err
}

// pushFrame queues a frame without wedging on a gone consumer.
func pushFrame(ctx context.Context, frames chan<- streamFrame, f streamFrame) error {
	select {
	case frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeStreamFrame maps a queued frame onto the SSE writer.
func writeStreamFrame(w SSEWriter, f streamFrame) error {
	switch f.kind {
	case frameContent:
		return w.WriteContent(f.text)
	case frameRaw:
		return w.WriteRaw(f.raw)
	case frameError:
		return w.WriteError(f.text)
	case frameDone:
		return w.WriteDone()
	}
	return nil
}

// =============================================================================
// Session Resolution
// =============================================================================

// resolveSession maps an optional client session reference onto a
// stored session.
//
// # Description
//
// Three cases:
//   - No session_id: a fresh identifier is minted and the model-type is
//     inferred from the requested model.
//   - session_id unknown to the store: treated as new, but the client's
//     identifier is retained so client-generated IDs stay stable.
//   - session_id found: the stored model-type is authoritative over any
//     inference from the requested model, and the full chronological
//     history is loaded.
//
// Resolution never writes; session rows are created by the commit stage
// once there is content worth keeping.
func (h *streamingChatHandler) resolveSession(ctx context.Context, sessionID, model string) (SessionContext, error) {
	ctx, span := h.tracer.Start(ctx, "streamingChatHandler.resolveSession")
	defer span.End()

	if sessionID == "" {
		return SessionContext{
			ID:        uuid.NewString(),
			IsNew:     true,
			ModelType: datatypes.ModelTypeFor(model),
		}, nil
	}

	sess, found, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionContext{}, fmt.Errorf("resolving session %s: %w", sessionID, err)
	}
	if !found {
		slog.Info("Session id not found, starting a new session with the client's id",
			"session_id", sessionID,
		)
		return SessionContext{
			ID:        sessionID,
			IsNew:     true,
			ModelType: datatypes.ModelTypeFor(model),
		}, nil
	}

	history, err := h.store.GetSessionHistory(ctx, sessionID)
	if err != nil {
		return SessionContext{}, fmt.Errorf("loading history for session %s: %w", sessionID, err)
	}
	span.SetAttributes(attribute.Int("session.history_turns", len(history)))

	return SessionContext{
		ID:        sess.ID,
		IsNew:     false,
		ModelType: sess.ModelType,
		History:   history,
	}, nil
}

// =============================================================================
// Persistence
// =============================================================================

// commitExchange persists the completed exchange.
//
// # Description
//
// Runs exactly once per streaming request, after the relay has fully
// ended, for every outcome: clean completion, backend error, or client
// disconnect. The accumulated text is split into content and reasoning
// first; if both are empty nothing is written, so a failed first turn
// never leaves an orphan session. New sessions are created together
// with both turns in one transaction, with a generated display title.
// Existing sessions get the assistant turn (the user turn was persisted
// before streaming); if that earlier insert failed, it is retried here
// so the stored exchange keeps its question/answer pairing.
//
// Persistence failures are logged and counted, never surfaced: the
// client already has the streamed answer.
func (h *streamingChatHandler) commitExchange(
	ctx context.Context,
	sess SessionContext,
	userTurn store.TurnRecord,
	userTurnPersisted bool,
	model string,
	accumulator TokenAccumulator,
) {
	// NOTE: the request context is usually canceled by the time the
	// commit runs (stream finished or client disconnected). The commit
	// keeps the request's trace and values but sheds its cancellation;
	// commitTimeout is its only deadline.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "streamingChatHandler.commitExchange")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Bool("session.is_new", sess.IsNew),
	)

	raw, digest, err := accumulator.Finalize()
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to finalize accumulated response", "session_id", sess.ID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordCommit(observability.CommitFailed)
		}
		return
	}

	content, reasoning := conversation.SplitReasoning(raw)
	if content == "" && reasoning == "" {
		slog.Info("Skipping persistence for empty response", "session_id", sess.ID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordCommit(observability.CommitSkippedEmpty)
		}
		return
	}

	role := conversation.RoleAssistant
	if sess.ModelType == datatypes.ModelTypeDebate {
		role = datatypes.DebateRoleFor(model)
	}
	assistantTurn := store.TurnRecord{
		SessionID: sess.ID,
		Role:      role,
		Content:   content,
		Reasoning: reasoning,
	}

	if sess.IsNew {
		title := h.generateSessionTitle(ctx, userTurn.Content, content)
		_, err = h.store.CommitFirstExchange(ctx, store.Session{
			ID:        sess.ID,
			ModelType: sess.ModelType,
			Title:     title,
		}, userTurn, assistantTurn)
	} else {
		if !userTurnPersisted {
			if _, insErr := h.store.InsertTurn(ctx, userTurn); insErr != nil {
				slog.Error("Failed to persist user turn during commit",
					"session_id", sess.ID,
					"error", insErr,
				)
			}
		}
		err = h.store.CommitAssistantTurn(ctx, assistantTurn)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		slog.Error("Failed to persist exchange", "session_id", sess.ID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordCommit(observability.CommitFailed)
		}
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordCommit(observability.CommitCommitted)
	}
	slog.Info("Exchange persisted",
		"session_id", sess.ID,
		"role", role,
		"content_length", len(content),
		"reasoning_length", len(reasoning),
		"sha256", digest,
	)
}

// generateSessionTitle asks the backend for a short display title for a
// new session's first exchange. Any failure falls back to the default
// title; a missing title must never cost the user their transcript.
func (h *streamingChatHandler) generateSessionTitle(ctx context.Context, question, answer string) string {
	// The title needs only the opening of the answer.
	if r := []rune(answer); len(r) > titleAnswerClip {
		answer = string(r[:titleAnswerClip])
	}

	prompt := fmt.Sprintf(
		"Generate a very short title (8 words max) for this conversation:\nUser: %s\nAI: %s\nTitle:",
		question, answer,
	)
	temp := float32(TITLE_TEMPERATURE)
	maxTokens := TITLE_MAX_TOKENS
	params := llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"\n", "User:", "AI:"},
	}

	title, err := h.llmClient.Generate(ctx, prompt, params)
	title = strings.TrimSpace(title)
	if err != nil || title == "" {
		if err != nil {
			slog.Error("Failed to generate session title", "error", err)
		} else {
			slog.Warn("LLM generated an empty title, using fallback")
		}
		return store.DefaultSessionTitle
	}
	return title
}

// =============================================================================
// Helper Methods
// =============================================================================

// runHeartbeat sends periodic keepalive pings to prevent connection
// timeouts.
//
// # Description
//
// Runs in a separate goroutine, sending SSE comments every
// heartbeatInterval to keep the connection alive while the backend is
// loading a model or thinking. Stops when the done channel is closed,
// the context is canceled, or a write fails (client gone). Shared by
// every streaming endpoint in this package.
//
// # Assumptions
//
//   - Writer is thread-safe.
func runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// truncateDocument caps attached-document text at the shared window and
// persistence limit. Measured in runes so multi-byte scripts are never
// cut mid-character.
func truncateDocument(text string) string {
	runes := []rune(text)
	if len(runes) <= datatypes.MaxDocumentChars {
		return text
	}
	slog.Warn("Attached document truncated", "chars", len(runes), "limit", datatypes.MaxDocumentChars)
	return string(runes[:datatypes.MaxDocumentChars])
}

// sanitizeErrorForClient removes internal details from error messages.
//
// # Description
//
// Backend errors can carry hostnames, file paths and model internals.
// The full error is logged internally; the client receives a generic
// message.
func sanitizeErrorForClient(errMsg string) string {
	slog.Debug("Sanitizing error for client", "original_error", errMsg)
	return "An error occurred while processing your request"
}
