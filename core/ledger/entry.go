package ledger

import (
	"encoding/json"
	"time"

	"examseal/types/ids"
)

// EntryKind distinguishes the two anchored record types.
type EntryKind string

const (
	KindContent EntryKind = "content"
	KindOutcome EntryKind = "outcome"
)

// Entry is one link of the local hash chain.
type Entry struct {
	Seq                  uint64    `json:"seq"`                            // Position in the chain, first entry = 1
	ID                   string    `json:"id"`                             // Random entry id
	Kind                 EntryKind `json:"kind"`                           // content or outcome
	SubjectID            int64     `json:"subjectId"`                      // Anchored subject
	Fingerprint          ids.ID    `json:"fingerprint"`                    // Content or outcome fingerprint
	PrincipalFingerprint *ids.ID   `json:"principalFingerprint,omitempty"` // Outcome entries only
	WindowStart          int64     `json:"windowStart,omitempty"`          // Content entries only, unix seconds
	WindowEnd            int64     `json:"windowEnd,omitempty"`
	PrevHash             ids.ID    `json:"prevHash"`  // Hash of the previous entry, zero for the first
	Timestamp            time.Time `json:"timestamp"` // UTC append time
	Hash                 ids.ID    `json:"hash"`      // Hash over every field above
}

// ComputeHash hashes the entry fields, excluding Hash itself.
func (e *Entry) ComputeHash() ids.ID {
	header := struct {
		Seq                  uint64
		ID                   string
		Kind                 EntryKind
		SubjectID            int64
		Fingerprint          ids.ID
		PrincipalFingerprint *ids.ID
		WindowStart          int64
		WindowEnd            int64
		PrevHash             ids.ID
		Timestamp            time.Time
	}{
		e.Seq, e.ID, e.Kind, e.SubjectID, e.Fingerprint, e.PrincipalFingerprint,
		e.WindowStart, e.WindowEnd, e.PrevHash, e.Timestamp,
	}
	data, _ := json.Marshal(header)
	return ids.NewID(data)
}

// TxRef is the reference handed back to callers: 0x followed by the hash.
func (e *Entry) TxRef() TxRef {
	return TxRef("0x" + e.Hash.String())
}

// ParseTxRef extracts the entry hash from a reference.
func ParseTxRef(ref TxRef) (ids.ID, error) {
	return ids.FromString(string(ref))
}
