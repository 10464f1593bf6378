// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the relay service.
//
// This file implements secure fragment accumulation for streaming
// responses. Fragments are stored in mlocked memory so partial
// conversations never swap to disk, and are incrementally hashed so the
// committer can log an integrity digest of what it persisted.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the size of the mlocked buffer for fragment
	// accumulation. 512 KB comfortably holds the longest response the
	// stream processor lets through (100 KB cap) plus reasoning text.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512
)

// insecureMemoryEnv acknowledges running without mlocked memory.
const insecureMemoryEnv = "ORCHID_INSECURE_MEMORY"

// =============================================================================
// Package Variables
// =============================================================================

var (
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if
	// secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// =============================================================================
// Interface
// =============================================================================

// TokenAccumulator defines the contract for accumulating streamed
// fragments.
//
// # Description
//
// TokenAccumulator abstracts fragment storage during streaming,
// allowing secure and insecure implementations based on system
// capabilities. Fragments are hashed incrementally as they arrive.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Examples
//
//	acc, err := NewTokenAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
//
//	acc.Write("Hello ")
//	acc.Write("world!")
//	answer, digest, _ := acc.Finalize()
//
// # Limitations
//
//   - Buffer size is fixed (cannot grow dynamically)
//   - Cannot be reused after Finalize() or Destroy()
type TokenAccumulator interface {
	// Write appends a fragment. Returns an error on overflow or after
	// the accumulator was destroyed; overflow is not recoverable.
	Write(token string) error

	// Finalize returns the accumulated text and its SHA-256 digest
	// (hex encoded), then wipes the buffer. Can only be called once.
	Finalize() (answer string, digest string, err error)

	// Destroy wipes memory without returning data. Idempotent; use on
	// paths where the accumulated text is not needed.
	Destroy()

	// ID returns a unique identifier for this accumulator, for log
	// correlation.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator stores fragments in mlocked memory.
//
// # Description
//
// Uses a memguard LockedBuffer: memory is mlocked against swapping,
// bracketed by guard pages, and explicitly zeroed on Destroy. The
// SHA-256 digest is updated as fragments arrive, never over a separate
// plaintext copy.
//
// # System Requirements
//
// Requires mlock limit >= SecureBufferSize. Raise RLIMIT_MEMLOCK or
// set ORCHID_INSECURE_MEMORY=true to accept the fallback.
type secureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// insecureAccumulator is the fallback for systems without sufficient
// mlock. Same interface, ordinary Go memory: data may be swapped to
// disk and wiping is best-effort under the garbage collector.
type insecureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// =============================================================================
// Constructors
// =============================================================================

// NewTokenAccumulator creates an accumulator for one streaming request.
//
// # Description
//
// Allocates a mlocked buffer of SecureBufferSize bytes. If the mlock
// limit is insufficient the behavior depends on ORCHID_INSECURE_MEMORY:
// "true" falls back to ordinary memory with a warning, anything else is
// an error.
//
// # Outputs
//
//   - TokenAccumulator: Ready for use (secure or insecure per system)
//   - error: Non-nil if allocation failed and no fallback is allowed
func NewTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		return handleInsufficientMlock()
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()
	slog.Debug("Created secure accumulator",
		"accumulator_id", accID,
		"buffer_size", SecureBufferSize,
	)

	return &secureAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

func newInsecureAccumulator() TokenAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)

	return &insecureAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

// =============================================================================
// secureAccumulator Methods
// =============================================================================

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
		"digest", digest[:16]+"...",
	)
	return answer, digest, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed secure accumulator", "accumulator_id", a.id)
}

func (a *secureAccumulator) ID() string { return a.id }

func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe destroys the locked buffer. Callers hold the mutex.
func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// insecureAccumulator Methods
// =============================================================================

func (a *insecureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *insecureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized insecure accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, digest, nil
}

func (a *insecureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed insecure accumulator", "accumulator_id", a.id)
}

func (a *insecureAccumulator) ID() string { return a.id }

func (a *insecureAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe zeros the slice (best effort). Callers hold the mutex.
func (a *insecureAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Package Initialization
// =============================================================================

// initMemguard initializes memguard once and probes the mlock limit.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit queries the kernel for RLIMIT_MEMLOCK and compares it
// against the minimum required for secure accumulation. Returns the
// limit in kilobytes, -1 meaning unlimited.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}

	if os.Getenv(insecureMemoryEnv) == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", insecureMemoryEnv+"=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise RLIMIT_MEMLOCK or set "+insecureMemoryEnv+"=true",
		)
	}
}

func handleInsufficientMlock() (TokenAccumulator, error) {
	if os.Getenv(insecureMemoryEnv) == "true" {
		slog.Warn("Using insecure accumulator due to mlock limits",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return newInsecureAccumulator(), nil
	}
	return nil, fmt.Errorf(
		"mlock limit insufficient: have %d KB, need %d KB. "+
			"Raise system limits or set %s=true",
		currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
	)
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable reports whether secure memory is available and the
// current mlock limit in KB (-1 if unlimited). Surfaced by the health
// endpoint.
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Call during
// graceful shutdown; also runs automatically on SIGINT/SIGTERM via
// memguard.CatchInterrupt.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ TokenAccumulator = (*secureAccumulator)(nil)
	_ TokenAccumulator = (*insecureAccumulator)(nil)
)
