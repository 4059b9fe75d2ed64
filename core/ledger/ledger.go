// Package ledger is the boundary to the external ledger that anchors content
// and outcome fingerprints. Callers see two operations and three failure
// classes; everything about how the ledger reaches agreement stays behind the
// interface.
package ledger

import (
	"context"
	"errors"

	"examseal/types/ids"
)

// TxRef is the ledger-assigned reference of an anchored entry.
type TxRef string

var (
	// ErrUnavailable means the call did not take effect and may be retried.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrIndeterminate means the call may or may not have taken effect.
	ErrIndeterminate = errors.New("ledger: outcome unknown")
	// ErrRejected means the ledger refused the call permanently.
	ErrRejected = errors.New("ledger: rejected")
	// ErrNotFound is returned by lookups of unknown references.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Ledger anchors fingerprints.
type Ledger interface {
	RegisterContent(ctx context.Context, subjectID int64, fingerprint ids.ID, windowStart, windowEnd int64) (TxRef, error)
	CommitOutcome(ctx context.Context, subjectID int64, principalFingerprint, outcomeFingerprint ids.ID) (TxRef, error)
}

// Reader is implemented by ledgers that can return an anchored entry.
type Reader interface {
	Lookup(ctx context.Context, ref TxRef) (Entry, error)
}
