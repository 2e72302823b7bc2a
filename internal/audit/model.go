// Package audit keeps a tamper-evident trail of operator writes to manual
// placements and boosts.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Actions recorded in the trail.
const (
	ActionManualBatch   = "manual_batch"
	ActionManualDisable = "manual_disable"
	ActionBoost         = "boost"
	ActionBoostCancel   = "boost_cancel"
)

// Outcomes recorded in the trail.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is one stored audit record.
type Entry struct {
	ID         string
	OperatorID string
	Action     string
	Scope      string
	ProductID  string // empty for batch writes
	Outcome    string
	Revision   int64  // scope revision after the write, 0 when unknown
	Detail     string // error code or batch counts
	RequestID  string
	CreatedAt  time.Time

	// PreviousHash is the hash of the entry appended just before this one.
	// It is empty for the first entry.
	PreviousHash string
}

// LogEntry is the input for appending an entry.
type LogEntry struct {
	OperatorID string
	Action     string
	Scope      string
	ProductID  string
	Outcome    string
	Revision   int64
	Detail     string
	RequestID  string
}

// Hash returns the SHA-256 digest of the entry, including its PreviousHash,
// as lowercase hex.
func (e *Entry) Hash() string {
	fields := []string{
		e.ID,
		e.OperatorID,
		e.Action,
		e.Scope,
		e.ProductID,
		e.Outcome,
		strconv.FormatInt(e.Revision, 10),
		e.Detail,
		e.RequestID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that every entry links to the hash of its predecessor.
// entries must be in append order. It returns the index of the first entry
// whose link is broken, or -1 when the chain is intact.
func VerifyChain(entries []*Entry) int {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			return i
		}
		prev = e.Hash()
	}
	return -1
}
