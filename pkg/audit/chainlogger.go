package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is a single tamper-evident record. Each entry commits to the
// hash of its predecessor, so rewriting history invalidates every later
// entry.
type LogEntry struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger appends request-level audit records into a hash chain.
type ChainLogger struct {
	mu           sync.Mutex
	sequence     uint64
	previousHash string
}

// NewChainLogger creates a logger anchored on a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append records a payload as the next link in the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entry := &LogEntry{
		Sequence:     c.sequence,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = hashEntry(entry)

	c.previousHash = entry.Hash
	return entry
}

// Tail returns the hash of the most recent entry.
func (c *ChainLogger) Tail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func hashEntry(e *LogEntry) string {
	input := fmt.Sprintf("%d|%s|%s|%s", e.Sequence, e.PreviousHash, e.Timestamp, e.Payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyChain reports whether entries form an unbroken, untampered chain.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != entries[i-1].Hash {
			return false
		}
		if hashEntry(entry) != entry.Hash {
			return false
		}
	}
	return true
}
