// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE frame serialization and writing, enabling
// testability and separation from HTTP response mechanics. The relay
// emits data-only frames; there are no `event:` lines:
//
//	data: {"session_id":"..."}   announced once for new sessions
//	data: {"content":"..."}      one per backend fragment
//	data: {"text":"..."}         translation fragments
//	data: {"error":"..."}        at most one, stream ends after it
//	data: [DONE]                 literal terminal marker
//
// Frames unparseable on the backend side are forwarded verbatim via
// WriteRaw so the client sees exactly what the backend produced.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The relay goroutine
// and the keepalive ticker write through the same writer.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before writing
type SSEWriter interface {
	// WriteSessionID announces the session identifier. For new
	// sessions this must be the first frame, before any content.
	WriteSessionID(sessionID string) error

	// WriteContent writes one content fragment frame.
	WriteContent(content string) error

	// WriteText writes one translation fragment frame.
	WriteText(text string) error

	// WriteError writes an error frame. The message must already be
	// sanitized; no internal details reach the client.
	WriteError(errMsg string) error

	// WriteDone writes the literal [DONE] terminal frame. Should only
	// be called once per stream.
	WriteDone() error

	// WriteRaw forwards a backend line verbatim as a data frame.
	// Used for lines the relay could not parse; the client decides
	// what to do with them.
	WriteRaw(line []byte) error

	// WriteKeepAlive sends a comment line (": ping") to prevent
	// connection timeouts from load balancers during long backend
	// silences. Comments are ignored by SSE clients.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher interface for immediate send
//   - mu: Mutex for thread-safe writes
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// Frame payload shapes. Field names are part of the wire contract.
type sessionFrame struct {
	SessionID string `json:"session_id"`
}

type contentFrame struct {
	Content string `json:"content"`
}

type textFrame struct {
	Text string `json:"text"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// doneMarker is the literal payload of the terminal frame.
const doneMarker = "[DONE]"

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Description
//
// Creates an sseWriter that wraps the ResponseWriter. The caller must
// set appropriate SSE headers before creating the writer.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE frames.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteContent("Hello")
//	writer.WriteDone()
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// writeData writes one data frame and flushes it immediately.
func (w *sseWriter) writeData(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// writeJSON marshals the payload struct and writes it as a data frame.
func (w *sseWriter) writeJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return w.writeData(data)
}

// WriteSessionID announces the session identifier to the client.
func (w *sseWriter) WriteSessionID(sessionID string) error {
	return w.writeJSON(sessionFrame{SessionID: sessionID})
}

// WriteContent writes one content fragment frame.
//
// Each call flushes immediately; fragments are never batched, so the
// client renders them as the backend produces them.
func (w *sseWriter) WriteContent(content string) error {
	return w.writeJSON(contentFrame{Content: content})
}

// WriteText writes one translation fragment frame.
func (w *sseWriter) WriteText(text string) error {
	return w.writeJSON(textFrame{Text: text})
}

// WriteError writes an error frame.
//
// The caller sanitizes the message first; internal details stay in the
// server log.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.writeJSON(errorFrame{Error: errMsg})
}

// WriteDone writes the literal [DONE] terminal frame.
func (w *sseWriter) WriteDone() error {
	return w.writeData([]byte(doneMarker))
}

// WriteRaw forwards a backend line verbatim as a data frame.
//
// The line must be a single line; the stream reader has already
// stripped the newline.
func (w *sseWriter) WriteRaw(line []byte) error {
	return w.writeData(line)
}

// WriteKeepAlive sends a comment line to keep the connection alive.
//
// # Description
//
// Writes an SSE comment (": ping\n\n") to keep the TCP connection
// active during long operations. Comments are ignored by SSE clients
// but reset load balancer timeout counters (AWS ALB, Nginx default
// 60s).
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
