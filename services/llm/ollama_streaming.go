// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/orchid219/relay/services/relay/conversation"
)

// maxStreamLineBytes bounds a single NDJSON line from the backend.
// Ollama emits small fragments; 1 MiB leaves generous slack.
const maxStreamLineBytes = 1024 * 1024

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType classifies the events a streaming call emits.
type StreamEventType int

const (
	// StreamEventToken is an incremental content fragment.
	StreamEventToken StreamEventType = iota

	// StreamEventThinking is an incremental reasoning fragment from
	// models that stream reasoning on a separate field.
	StreamEventThinking

	// StreamEventRaw is a backend line that failed JSON parsing. The
	// line is carried verbatim in Raw so transports can forward it;
	// it contributes nothing to accumulated response text.
	StreamEventRaw

	// StreamEventDone signals the backend's explicit completion frame.
	StreamEventDone

	// StreamEventError carries a failure the backend reported inside
	// the stream.
	StreamEventError
)

// StreamEvent is one increment delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Raw     []byte
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(event StreamEvent) error

// StreamConfig bounds one streaming call.
type StreamConfig struct {
	// RedactThinking drops thinking fragments instead of emitting them.
	RedactThinking bool

	// MaxThinkingLength truncates accumulated thinking output in bytes.
	// Zero means unlimited.
	MaxThinkingLength int

	// MaxResponseLength truncates accumulated response output in bytes.
	// Zero means unlimited.
	MaxResponseLength int

	// RateLimitPerSecond throttles token events. Zero disables the
	// limiter.
	RateLimitPerSecond int
}

// DefaultStreamConfig returns the limits applied when the caller does
// not supply a config: no redaction, no thinking cap, 100 KiB response
// cap, no rate limit.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxResponseLength: 100 * 1024,
	}
}

// =============================================================================
// Chunk Parsing
// =============================================================================

// ollamaStreamChunk is one parsed NDJSON line from the chat endpoint.
type ollamaStreamChunk struct {
	Message       conversation.Message `json:"message"`
	Thinking      string               `json:"thinking"`
	Done          bool                 `json:"done"`
	DoneReason    string               `json:"done_reason"`
	TotalDuration int64                `json:"total_duration"`
	Error         string               `json:"error"`
}

// ollamaGenerateChunk is one parsed NDJSON line from the generate
// endpoint.
type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// =============================================================================
// Stream Processor
// =============================================================================

// DefaultStreamProcessor applies StreamConfig policy to parsed chunks
// and drives the callback. One processor serves one stream; it is not
// safe for concurrent use.
type DefaultStreamProcessor struct {
	cfg            StreamConfig
	limiter        *rate.Limiter
	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewDefaultStreamProcessor creates a processor for one stream. The
// limiter may be nil to disable throttling.
func NewDefaultStreamProcessor(cfg StreamConfig, limiter *rate.Limiter) *DefaultStreamProcessor {
	return &DefaultStreamProcessor{cfg: cfg, limiter: limiter}
}

// GetTokenCount returns the number of content fragments emitted.
func (p *DefaultStreamProcessor) GetTokenCount() int { return p.tokenCount }

// GetResponseLength returns the accumulated response length in bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int { return p.responseLength }

// ProcessChunk handles one parsed chunk: emits the matching events and
// reports whether the stream is complete.
//
// An error field in the chunk emits a StreamEventError, then returns
// (true, error) so the caller stops reading. Callback errors are
// wrapped and propagated. Truncation policy comes from StreamConfig.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context, chunk *ollamaStreamChunk, callback StreamCallback) (bool, error) {
	if chunk.Error != "" {
		if err := callback(StreamEvent{Type: StreamEventError, Error: chunk.Error}); err != nil {
			return true, fmt.Errorf("callback failed on error event: %w", err)
		}
		return true, fmt.Errorf("backend stream error: %s", chunk.Error)
	}

	if chunk.Thinking != "" && !p.cfg.RedactThinking {
		content := p.truncateThinking(chunk.Thinking)
		if content != "" {
			p.thinkingLength += len(content)
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: content}); err != nil {
				return false, fmt.Errorf("callback failed on thinking event: %w", err)
			}
		}
	}

	if chunk.Message.Content != "" {
		content := p.truncateResponse(chunk.Message.Content)
		if content != "" {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return false, err
				}
			}
			p.tokenCount++
			p.responseLength += len(content)
			if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
				return false, fmt.Errorf("callback failed on token event: %w", err)
			}
		}
	}

	if chunk.Done {
		if err := callback(StreamEvent{Type: StreamEventDone}); err != nil {
			return true, fmt.Errorf("callback failed on done event: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (p *DefaultStreamProcessor) truncateThinking(content string) string {
	if p.cfg.MaxThinkingLength <= 0 {
		return content
	}
	remaining := p.cfg.MaxThinkingLength - p.thinkingLength
	if remaining <= 0 {
		return ""
	}
	if len(content) > remaining {
		return content[:remaining]
	}
	return content
}

func (p *DefaultStreamProcessor) truncateResponse(content string) string {
	if p.cfg.MaxResponseLength <= 0 {
		return content
	}
	remaining := p.cfg.MaxResponseLength - p.responseLength
	if remaining <= 0 {
		return ""
	}
	if len(content) > remaining {
		return content[:remaining]
	}
	return content
}

// =============================================================================
// Streaming Calls
// =============================================================================

// ChatStream streams a chat completion with default stream limits.
// See ChatStreamWithConfig.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []conversation.Message,
	params GenerationParams, callback StreamCallback) error {
	return o.ChatStreamWithConfig(ctx, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig streams a chat completion, invoking callback
// for every event in arrival order.
//
// # Description
//
// Issues a streaming chat request and reads the NDJSON response line
// by line. Parsed lines flow through a DefaultStreamProcessor which
// applies the config's redaction, truncation and rate limits. Lines
// that fail JSON parsing are emitted as StreamEventRaw and never abort
// the stream. The call returns nil after the backend's done frame or
// a clean connection close, the context's error on cancellation, and
// a wrapped error for transport failures, in-stream backend errors,
// and callback aborts.
//
// # Inputs
//
//   - ctx: cancels the request and the read loop
//   - messages: ordered role/content pairs to send
//   - params: generation options; unset fields get client defaults
//   - callback: receives every event; a non-nil return aborts
//   - cfg: stream limits for this call
//
// # Thread Safety
//
// Safe for concurrent calls on one client; each call owns its
// processor and reader.
func (o *OllamaClient) ChatStreamWithConfig(ctx context.Context, messages []conversation.Message,
	params GenerationParams, callback StreamCallback, cfg StreamConfig) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Options:  buildOptions(params),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal stream request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create stream request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("Ollama stream call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		slog.Error("Ollama stream returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return fmt.Errorf("ollama stream failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	processor := NewDefaultStreamProcessor(cfg, newStreamLimiter(cfg))
	err = o.readStream(ctx, resp.Body, func(line []byte) (bool, error) {
		chunk, parseErr := o.parseStreamChunk(line)
		if parseErr != nil {
			slog.Warn("Forwarding malformed stream line without accumulation", "error", parseErr)
			if cbErr := callback(StreamEvent{Type: StreamEventRaw, Raw: line}); cbErr != nil {
				return false, fmt.Errorf("callback failed on raw event: %w", cbErr)
			}
			return false, nil
		}
		return processor.ProcessChunk(ctx, chunk, callback)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// GenerateStream streams a prompt completion from the generate
// endpoint, emitting token events for each response fragment. Used for
// single-prompt work like translation where no chat history applies.
func (o *OllamaClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  true,
		Options: buildOptions(params),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal generate stream request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create generate stream request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("Ollama generate stream call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama generate stream failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	err = o.readStream(ctx, resp.Body, func(line []byte) (bool, error) {
		var chunk ollamaGenerateChunk
		if parseErr := json.Unmarshal(line, &chunk); parseErr != nil {
			slog.Warn("Skipping malformed generate stream line", "error", parseErr)
			return false, nil
		}
		if chunk.Error != "" {
			if cbErr := callback(StreamEvent{Type: StreamEventError, Error: chunk.Error}); cbErr != nil {
				return true, fmt.Errorf("callback failed on error event: %w", cbErr)
			}
			return true, fmt.Errorf("backend stream error: %s", chunk.Error)
		}
		if chunk.Response != "" {
			if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Response}); cbErr != nil {
				return false, fmt.Errorf("callback failed on token event: %w", cbErr)
			}
		}
		if chunk.Done {
			if cbErr := callback(StreamEvent{Type: StreamEventDone}); cbErr != nil {
				return true, fmt.Errorf("callback failed on done event: %w", cbErr)
			}
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// readStream drives a line handler over an NDJSON body. Empty lines
// are skipped. The handler returns done=true to stop reading cleanly.
// Context errors take precedence over the transport errors they cause.
func (o *OllamaClient) readStream(ctx context.Context, body io.Reader, handle func(line []byte) (bool, error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer; hand the handler a copy.
		lineCopy := make([]byte, len(line))
		copy(lineCopy, line)

		done, err := handle(lineCopy)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading ollama stream: %w", err)
	}
	return nil
}

// newStreamLimiter builds the optional token rate limiter for a
// config. Nil when throttling is disabled.
func newStreamLimiter(cfg StreamConfig) *rate.Limiter {
	if cfg.RateLimitPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond)
}

var _ StreamingChatClient = (*OllamaClient)(nil)
