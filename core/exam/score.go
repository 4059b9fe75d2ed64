package exam

import "time"

// Score grades answers against the items' correct choices. A correct
// selection earns credit, a wrong selection on a known item earns penalty.
// Blank selections and unknown item ids contribute nothing. Only the first
// answer for an item counts; repeats are ignored.
func Score(items []Item, answers []Answer, credit, penalty int) int {
	correct := make(map[int64]Choice, len(items))
	for _, it := range items {
		correct[it.ID] = it.Correct
	}
	seen := make(map[int64]bool, len(answers))
	score := 0
	for _, a := range answers {
		want, ok := correct[a.ItemID]
		if !ok || seen[a.ItemID] {
			continue
		}
		seen[a.ItemID] = true
		if a.Selected == "" {
			continue
		}
		if a.Selected == want {
			score += credit
		} else {
			score += penalty
		}
	}
	return score
}

// DisplayStatus is the per-principal schedule status shown in listings.
type DisplayStatus string

const (
	StatusUpcoming  DisplayStatus = "UPCOMING"
	StatusOngoing   DisplayStatus = "ONGOING"
	StatusMissed    DisplayStatus = "MISSED"
	StatusSubmitted DisplayStatus = "SUBMITTED"
)

// Status derives the listing status of s for a principal whose attempt may be nil.
func Status(s Subject, attempt *Attempt, now time.Time) DisplayStatus {
	switch {
	case attempt != nil && attempt.Status == AttemptSubmitted:
		return StatusSubmitted
	case now.After(s.EndsAt()):
		return StatusMissed
	case !now.Before(s.StartsAt):
		return StatusOngoing
	default:
		return StatusUpcoming
	}
}
