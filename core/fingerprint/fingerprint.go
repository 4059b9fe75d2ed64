package fingerprint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"examseal/core/exam"
	"examseal/types/ids"
)

// Delimiter joins scalar fields.
const Delimiter = "|"

// ErrDelimiterInField is returned when a scalar field contains the delimiter,
// which would let two different field lists join to the same text.
var ErrDelimiterInField = errors.New("fingerprint: field contains delimiter")

// Sum digests raw bytes.
func Sum(data []byte) ids.ID {
	return ids.ID(sha256.Sum256(data))
}

// Structured digests the canonical JSON text of v.
func Structured(v any) (ids.ID, error) {
	text, err := Canonical(v)
	if err != nil {
		return ids.Empty, err
	}
	return Sum(text), nil
}

// Scalar digests fields joined by Delimiter in the given order.
func Scalar(fields ...string) (ids.ID, error) {
	for i, f := range fields {
		if strings.Contains(f, Delimiter) {
			return ids.Empty, fmt.Errorf("%w: field %d", ErrDelimiterInField, i)
		}
	}
	return Sum([]byte(strings.Join(fields, Delimiter))), nil
}

// ContentPayload builds the canonical payload of a subject's items in
// ascending id order, whatever order items arrive in.
func ContentPayload(items []exam.Item) []any {
	sorted := make([]exam.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	payload := make([]any, 0, len(sorted))
	for _, it := range sorted {
		payload = append(payload, map[string]any{
			"id":       it.ID,
			"question": it.Question,
			"options": map[string]any{
				"A": it.Options.A,
				"B": it.Options.B,
				"C": it.Options.C,
				"D": it.Options.D,
			},
			"correct": string(it.Correct),
		})
	}
	return payload
}

// Content digests a subject's items.
func Content(items []exam.Item) (ids.ID, error) {
	return Structured(ContentPayload(items))
}

// OutcomeFields are the scalar fields committed for an outcome, in order.
func OutcomeFields(subjectID, principalID int64, score int, completedAt time.Time) []string {
	return []string{
		strconv.FormatInt(subjectID, 10),
		strconv.FormatInt(principalID, 10),
		strconv.Itoa(score),
		ISOFormat(completedAt),
	}
}

// Outcome digests an outcome's committed fields.
func Outcome(subjectID, principalID int64, score int, completedAt time.Time) (ids.ID, error) {
	return Scalar(OutcomeFields(subjectID, principalID, score, completedAt)...)
}

// Principal is the pseudonym published to the ledger in place of a principal id.
func Principal(principalID int64) ids.ID {
	return Sum([]byte(strconv.FormatInt(principalID, 10)))
}

// ISOFormat renders t in UTC as YYYY-MM-DDTHH:MM:SS[.ffffff]+00:00. The
// fraction appears only when the microsecond part is non-zero.
func ISOFormat(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05") + "+00:00"
	}
	return t.Format("2006-01-02T15:04:05") + fmt.Sprintf(".%06d", t.Nanosecond()/1000) + "+00:00"
}
