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
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test: Write
// =============================================================================

// TestTokenAccumulator_Write_SingleFragment verifies basic accumulation.
func TestTokenAccumulator_Write_SingleFragment(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	err := acc.Write("Hello")
	require.NoError(t, err, "Write should succeed")

	answer, _, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")
	assert.Equal(t, "Hello", answer)
}

// TestTokenAccumulator_Write_MultipleFragments verifies fragments
// concatenate in arrival order.
func TestTokenAccumulator_Write_MultipleFragments(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	for _, fragment := range []string{"Hello", " ", "world", "!"} {
		err := acc.Write(fragment)
		require.NoError(t, err, "Write should succeed for fragment: %q", fragment)
	}

	answer, _, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")
	assert.Equal(t, "Hello world!", answer)
}

// TestTokenAccumulator_Write_UnicodeFragments verifies multi-byte text
// survives accumulation byte-exact.
func TestTokenAccumulator_Write_UnicodeFragments(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	for _, fragment := range []string{"안녕하세요", " ", "세계", "! 🌍"} {
		err := acc.Write(fragment)
		require.NoError(t, err, "Write should succeed for unicode fragment")
	}

	answer, _, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")
	assert.Equal(t, "안녕하세요 세계! 🌍", answer)
}

// TestTokenAccumulator_Write_AfterDestroy verifies the destroyed state
// is terminal.
func TestTokenAccumulator_Write_AfterDestroy(t *testing.T) {
	acc := newTestAccumulator(t)
	acc.Destroy()

	err := acc.Write("Hello")
	assert.Error(t, err, "Write after Destroy should fail")
	assert.Contains(t, err.Error(), "destroyed")
}

// TestTokenAccumulator_Write_AfterFinalize verifies Finalize wipes the
// buffer for good.
func TestTokenAccumulator_Write_AfterFinalize(t *testing.T) {
	acc := newTestAccumulator(t)
	_, _, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")

	err = acc.Write("Hello")
	assert.Error(t, err, "Write after Finalize should fail")
	assert.Contains(t, err.Error(), "destroyed")
}

// TestTokenAccumulator_Write_Overflow verifies the fixed buffer rejects
// oversized responses rather than growing.
func TestTokenAccumulator_Write_Overflow(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	err := acc.Write(strings.Repeat("a", SecureBufferSize+1))
	require.Error(t, err, "oversized write should fail")
	assert.Contains(t, err.Error(), "overflow")

	_, _, err = acc.Finalize()
	assert.Error(t, err, "Finalize after overflow should fail rather than return truncated text")
}

// =============================================================================
// Test: Finalize
// =============================================================================

// TestTokenAccumulator_Finalize_Digest verifies the digest is the
// SHA-256 of the accumulated text, hex encoded.
func TestTokenAccumulator_Finalize_Digest(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	content := "Hello, World!"
	require.NoError(t, acc.Write(content))

	answer, digest, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")
	assert.Equal(t, content, answer)

	expected := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(expected[:]), digest)
}

// TestTokenAccumulator_Finalize_IncrementalDigest verifies fragment-wise
// hashing matches hashing the joined text.
func TestTokenAccumulator_Finalize_IncrementalDigest(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	for _, fragment := range []string{"The ", "quick ", "brown ", "fox."} {
		require.NoError(t, acc.Write(fragment))
	}

	_, digest, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")

	expected := sha256.Sum256([]byte("The quick brown fox."))
	assert.Equal(t, hex.EncodeToString(expected[:]), digest)
}

// TestTokenAccumulator_Finalize_Twice verifies single-use semantics.
func TestTokenAccumulator_Finalize_Twice(t *testing.T) {
	acc := newTestAccumulator(t)
	require.NoError(t, acc.Write("data"))

	_, _, err := acc.Finalize()
	require.NoError(t, err, "first Finalize should succeed")

	_, _, err = acc.Finalize()
	assert.Error(t, err, "second Finalize should fail")
}

// TestTokenAccumulator_Finalize_Empty verifies an untouched accumulator
// finalizes to the empty string, not an error. The commit path depends
// on this to detect empty exchanges.
func TestTokenAccumulator_Finalize_Empty(t *testing.T) {
	acc := newTestAccumulator(t)

	answer, digest, err := acc.Finalize()
	require.NoError(t, err, "Finalize on empty accumulator should succeed")
	assert.Equal(t, "", answer)
	assert.Len(t, digest, 64, "digest should still be a full SHA-256 hex string")
}

// =============================================================================
// Test: Concurrency
// =============================================================================

// TestTokenAccumulator_ConcurrentWrites verifies writes from multiple
// goroutines never corrupt the buffer. Order between goroutines is not
// defined; total length is.
func TestTokenAccumulator_ConcurrentWrites(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	const writers = 8
	const perWriter = 50
	fragment := "0123456789"

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := acc.Write(fragment); err != nil {
					t.Errorf("concurrent Write failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	answer, _, err := acc.Finalize()
	require.NoError(t, err, "Finalize should succeed")
	assert.Len(t, answer, writers*perWriter*len(fragment))
}

// =============================================================================
// Test: Identity
// =============================================================================

// TestTokenAccumulator_ID verifies each accumulator gets a distinct
// UUID for log correlation.
func TestTokenAccumulator_ID(t *testing.T) {
	first := newTestAccumulator(t)
	defer first.Destroy()
	second := newTestAccumulator(t)
	defer second.Destroy()

	_, err := uuid.Parse(first.ID())
	assert.NoError(t, err, "ID should be a valid UUID")
	assert.NotEqual(t, first.ID(), second.ID())
}

// TestTokenAccumulator_CreatedAt verifies the creation timestamp is
// plausible.
func TestTokenAccumulator_CreatedAt(t *testing.T) {
	before := time.Now()
	acc := newTestAccumulator(t)
	defer acc.Destroy()
	after := time.Now()

	created := acc.CreatedAt()
	assert.False(t, created.Before(before), "CreatedAt should not predate construction")
	assert.False(t, created.After(after), "CreatedAt should not postdate construction")
}

// TestTokenAccumulator_DestroyIdempotent verifies repeated Destroy calls
// are safe.
func TestTokenAccumulator_DestroyIdempotent(t *testing.T) {
	acc := newTestAccumulator(t)
	acc.Destroy()
	assert.NotPanics(t, func() { acc.Destroy() })
}

// =============================================================================
// Test Helpers
// =============================================================================

// newTestAccumulator creates an accumulator for testing, falling back
// to the insecure implementation on runners without enough mlock.
func newTestAccumulator(t *testing.T) TokenAccumulator {
	t.Helper()

	acc, err := NewTokenAccumulator()
	if err == nil {
		return acc
	}

	t.Logf("Falling back to insecure accumulator: %v", err)
	return newInsecureAccumulator()
}
