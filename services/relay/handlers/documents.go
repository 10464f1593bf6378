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
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/orchid219/relay/services/relay/datatypes"
)

var (
	CHUNK_SIZE     = 1000
	CHUNK_OVERLAP  = int(float64(CHUNK_SIZE) * 0.10) // Chunk_overlap is 10% of the CHUNK_SIZE
	textSeparators = []string{"\n\n", "\n", " ", ""}
)

// UploadDocument accepts a plain-text file and returns its extracted
// content for use as chat document context.
//
// # Description
//
// Handles POST /api/chat/upload. The file arrives as multipart form
// field "file". Only .txt is accepted; the bytes are transcoded to
// UTF-8 (UTF-8, BOM-marked UTF-16, EUC-KR/CP949, Latin-1 in that
// order), truncated to the shared document limit, and split with the
// same recursive character splitter settings used for ingestion
// pipelines so the client can show chunk statistics.
//
// # Outputs
//
//	{"success": true, "filename": ..., "content": ...,
//	 "char_count": ..., "chunk_count": ...}
func UploadDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
			return
		}

		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		if ext != ".txt" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type, supported: txt"})
			return
		}
		if fileHeader.Size > int64(datatypes.MaxUploadBytes) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large, maximum 10MB"})
			return
		}

		f, err := fileHeader.Open()
		if err != nil {
			slog.Error("Failed to open uploaded file", "filename", fileHeader.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
			return
		}
		defer f.Close()

		// The LimitReader guards against a lying Content-Length.
		data, err := io.ReadAll(io.LimitReader(f, int64(datatypes.MaxUploadBytes)+1))
		if err != nil {
			slog.Error("Failed to read uploaded file", "filename", fileHeader.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
			return
		}
		if len(data) > datatypes.MaxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large, maximum 10MB"})
			return
		}

		text := strings.TrimSpace(truncateDocument(decodeTextContent(data)))

		chunkCount := 0
		if chunks, err := documentSplitter().SplitText(text); err != nil {
			slog.Warn("Failed to split uploaded document", "filename", fileHeader.Filename, "error", err)
		} else {
			chunkCount = len(chunks)
		}

		slog.Info("Parsed uploaded document",
			"filename", fileHeader.Filename,
			"char_count", utf8.RuneCountInString(text),
			"chunk_count", chunkCount,
		)
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"filename":    fileHeader.Filename,
			"content":     text,
			"char_count":  utf8.RuneCountInString(text),
			"chunk_count": chunkCount,
		})
	}
}

// decodeTextContent transcodes uploaded bytes to UTF-8.
//
// The waterfall mirrors what the upload sources actually are: UTF-8
// from modern editors, BOM-marked UTF-16 from Windows Notepad, EUC-KR
// or CP949 from legacy Korean tooling. Latin-1 accepts any byte
// sequence, so decoding never fails outright.
func decodeTextContent(data []byte) string {
	// BOM-marked UTF-16 first; the BOM is unambiguous.
	if len(data) >= 2 && ((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, _, err := transform.Bytes(dec, data); err == nil {
			return string(out)
		}
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}

	// x/text's euc-kr table is the Windows-949 superset, so this one
	// decoder covers both legacy Korean encodings. The decoder maps
	// unknown bytes to U+FFFD instead of failing, so the replacement
	// rune is the failure signal.
	if out, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), data); err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return string(out)
	}

	out, _, _ := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	return string(out)
}

func documentSplitter() textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(CHUNK_SIZE),
		textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
		textsplitter.WithSeparators(textSeparators),
	)
}
