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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchid219/relay/services/llm"
	"github.com/orchid219/relay/services/relay/observability"
)

// translationModel is the dedicated translation backend model. The
// conversational model selection does not apply here.
const translationModel = "translategemma:12b"

var (
	translationTemperature = float32(0.3)
	translationTopP        = float32(0.9)
)

// SUPPORTED_LANGUAGES maps language codes to display names for the
// translation endpoints. "auto" is accepted as a source only in
// practice, but the table serves both validation and the client's
// language picker, so it stays in one place.
var SUPPORTED_LANGUAGES = map[string]string{
	"ko":   "Korean",
	"en":   "English",
	"ja":   "Japanese",
	"zh":   "Chinese",
	"es":   "Spanish",
	"fr":   "French",
	"de":   "German",
	"pt":   "Portuguese",
	"ru":   "Russian",
	"ar":   "Arabic",
	"hi":   "Hindi",
	"vi":   "Vietnamese",
	"th":   "Thai",
	"id":   "Indonesian",
	"auto": "Auto-detect",
}

type TranslationRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type TranslationResponse struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// applyDefaults fills the conventional defaults: detect the source,
// translate to English.
func (r *TranslationRequest) applyDefaults() {
	if r.SourceLang == "" {
		r.SourceLang = "auto"
	}
	if r.TargetLang == "" {
		r.TargetLang = "en"
	}
}

// validateTranslationRequest returns a client-facing message for bad
// input, or "" when the request is usable.
func validateTranslationRequest(req *TranslationRequest) string {
	if strings.TrimSpace(req.Text) == "" {
		return "text cannot be empty"
	}
	if _, ok := SUPPORTED_LANGUAGES[req.TargetLang]; !ok {
		return fmt.Sprintf("unsupported target language: %s", req.TargetLang)
	}
	return ""
}

// buildTranslationPrompt renders the instruction the translation model
// was tuned for. Unknown source codes pass through verbatim rather than
// failing; the model copes with raw language tags.
func buildTranslationPrompt(text, sourceLang, targetLang string) string {
	source, ok := SUPPORTED_LANGUAGES[sourceLang]
	if !ok {
		source = sourceLang
	}
	target, ok := SUPPORTED_LANGUAGES[targetLang]
	if !ok {
		target = targetLang
	}

	if sourceLang == "auto" {
		return fmt.Sprintf("Translate the following text to %s:\n\n%s", target, text)
	}
	return fmt.Sprintf("Translate the following text from %s to %s:\n\n%s", source, target, text)
}

// GetLanguages returns the supported language table.
func GetLanguages() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"languages": SUPPORTED_LANGUAGES})
	}
}

// Translate performs a one-shot translation via the backend's generate
// endpoint and returns the whole result at once.
func Translate(client llm.StreamingChatClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := observability.EndpointTranslate

		var req TranslationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.applyDefaults()
		if msg := validateTranslationRequest(&req); msg != "" {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		prompt := buildTranslationPrompt(req.Text, req.SourceLang, req.TargetLang)
		params := llm.GenerationParams{
			Temperature: &translationTemperature,
			TopP:        &translationTopP,
		}

		translated, err := client.WithModel(translationModel).Generate(c.Request.Context(), prompt, params)
		if err != nil {
			slog.Error("Translation failed",
				"source_lang", req.SourceLang,
				"target_lang", req.TargetLang,
				"error", err,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
				m.RecordRequest(endpoint, false)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "translation failed"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, TranslationResponse{
			Original:   req.Text,
			Translated: strings.TrimSpace(translated),
			SourceLang: req.SourceLang,
			TargetLang: req.TargetLang,
		})
	}
}

// TranslateStream streams a translation as SSE text frames.
//
// # Description
//
// Handles POST /api/translate/stream. Fragments arrive as
// `data: {"text": ...}` frames followed by a literal `data: [DONE]`.
// Unlike the chat stream there is no session bookkeeping and nothing is
// persisted; malformed backend lines are skipped rather than forwarded.
func TranslateStream(client llm.StreamingChatClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		endpoint := observability.EndpointTranslateStream

		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(endpoint)
			defer m.StreamEnded(endpoint)
		}
		success := false
		defer func() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(endpoint, success)
				m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
			}
		}()

		var req TranslationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.applyDefaults()
		if msg := validateTranslationRequest(&req); msg != "" {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		ctx := c.Request.Context()
		SetSSEHeaders(c.Writer)
		sseWriter, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("Failed to create SSE writer", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeInternal)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
			return
		}

		heartbeatDone := make(chan struct{})
		go runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)
		defer close(heartbeatDone)

		prompt := buildTranslationPrompt(req.Text, req.SourceLang, req.TargetLang)
		params := llm.GenerationParams{
			Temperature: &translationTemperature,
			TopP:        &translationTopP,
		}

		firstToken := time.Time{}
		errorSent := false
		callback := func(event llm.StreamEvent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			switch event.Type {
			case llm.StreamEventToken:
				if firstToken.IsZero() {
					firstToken = time.Now()
				}
				return sseWriter.WriteText(event.Content)
			case llm.StreamEventError:
				errorSent = true
				return sseWriter.WriteError(sanitizeErrorForClient(event.Error))
			case llm.StreamEventDone:
				return sseWriter.WriteDone()
			}
			// Raw and thinking events carry nothing translatable.
			return nil
		}

		streamErr := client.WithModel(translationModel).GenerateStream(ctx, prompt, params, callback)
		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) {
				slog.Info("Client disconnected during translation stream")
				if m := observability.DefaultMetrics; m != nil {
					m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
					m.RecordClientDisconnect(endpoint)
				}
				return
			}
			slog.Error("Translation stream failed", "error", streamErr)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
			if !errorSent {
				if err := sseWriter.WriteError(sanitizeErrorForClient(streamErr.Error())); err != nil {
					slog.Debug("Failed to write error frame", "error", err)
				}
			}
			return
		}

		if !firstToken.IsZero() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstToken(endpoint, firstToken.Sub(startTime).Seconds())
			}
		}
		success = true
	}
}
