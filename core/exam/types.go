// Package exam holds the record-keeping side of the system: subjects, their
// question items, attempts and the integrity records anchored for them.
package exam

import (
	"fmt"
	"strings"
	"time"

	"examseal/types/ids"
)

// Choice is one of the fixed answer labels.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
	ChoiceD Choice = "D"
)

// Choices is the fixed label set, in canonical order.
var Choices = []Choice{ChoiceA, ChoiceB, ChoiceC, ChoiceD}

// ParseChoice validates a choice label.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(strings.ToUpper(strings.TrimSpace(s))); c {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD:
		return c, nil
	default:
		return "", fmt.Errorf("unknown choice %q", s)
	}
}

// Subject is an exam: the unit whose content gets locked.
type Subject struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
	CorrectCredit   int       `json:"correctCredit"`
	WrongPenalty    int       `json:"wrongPenalty"`
	CreatedBy       int64     `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
}

// EndsAt is the close of the exam window.
func (s Subject) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Window returns the exam window as unix seconds.
func (s Subject) Window() (start, end int64) {
	start = s.StartsAt.Unix()
	return start, start + int64(s.DurationMinutes)*60
}

// Options are the four answer texts keyed by label.
type Options struct {
	A string `json:"A" yaml:"A"`
	B string `json:"B" yaml:"B"`
	C string `json:"C" yaml:"C"`
	D string `json:"D" yaml:"D"`
}

// Get returns the text for label.
func (o Options) Get(label Choice) string {
	switch label {
	case ChoiceA:
		return o.A
	case ChoiceB:
		return o.B
	case ChoiceC:
		return o.C
	case ChoiceD:
		return o.D
	}
	return ""
}

// Item is one multiple-choice question.
type Item struct {
	ID        int64   `json:"id"`
	SubjectID int64   `json:"subjectId"`
	Question  string  `json:"question"`
	Options   Options `json:"options"`
	Correct   Choice  `json:"correct"`
	CreatedBy int64   `json:"createdBy,omitempty"`
}

// AttemptStatus is the lifecycle of a taker's attempt.
type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "STARTED"
	AttemptSubmitted AttemptStatus = "SUBMITTED"
)

// Attempt is one principal's sitting of one subject.
type Attempt struct {
	SubjectID   int64         `json:"subjectId"`
	PrincipalID int64         `json:"principalId"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt,omitempty"`
}

// Answer is a taker's selection for one item. Selected may be empty.
type Answer struct {
	ItemID   int64  `json:"question_id"`
	Selected Choice `json:"selected_option"`
}

// Seal is the locked content fingerprint of a subject. Once Locked is true,
// Fingerprint and TxRef never change.
type Seal struct {
	SubjectID   int64     `json:"subjectId"`
	Fingerprint ids.ID    `json:"fingerprint"`
	TxRef       string    `json:"txRef"`
	Locked      bool      `json:"locked"`
	LockedAt    time.Time `json:"lockedAt"`
	LockedBy    int64     `json:"lockedBy"`
}

// OutcomeRecord is the committed result of one attempt. Immutable.
type OutcomeRecord struct {
	SubjectID   int64     `json:"subjectId"`
	PrincipalID int64     `json:"principalId"`
	Score       int       `json:"score"`
	Fingerprint ids.ID    `json:"fingerprint"`
	TxRef       string    `json:"txRef"`
	CompletedAt time.Time `json:"completedAt"`
}

// PendingKind names the protocol whose ledger call ended indeterminate.
type PendingKind string

const (
	PendingLock   PendingKind = "lock"
	PendingCommit PendingKind = "commit"
)

// Pending records a ledger call whose outcome is unknown. While it exists the
// protocol refuses to run again for the same key.
type Pending struct {
	Kind        PendingKind `json:"kind"`
	SubjectID   int64       `json:"subjectId"`
	PrincipalID int64       `json:"principalId,omitempty"`
	InitiatedBy int64       `json:"initiatedBy"`
	Fingerprint ids.ID      `json:"fingerprint"`
	Score       int         `json:"score,omitempty"`
	CompletedAt time.Time   `json:"completedAt,omitempty"`
	TxRef       string      `json:"txRef,omitempty"` // Set when the ledger answered but the local write failed
	Reason      string      `json:"reason"`
	RecordedAt  time.Time   `json:"recordedAt"`
}
