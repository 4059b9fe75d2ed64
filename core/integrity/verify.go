package integrity

import (
	"context"
	"errors"
	"strconv"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/fingerprint"
	"examseal/core/ledger"
	"examseal/types/ids"
)

// Verdict is the result of comparing a stored fingerprint with a fresh one.
// It is never persisted.
type Verdict string

const (
	Verified Verdict = "VERIFIED"
	Tampered Verdict = "TAMPERED"
)

func compare(stored, computed ids.ID) Verdict {
	if stored == computed {
		return Verified
	}
	return Tampered
}

// ContentVerdict is the outcome of a content verification.
type ContentVerdict struct {
	SubjectID int64   `json:"subjectId"`
	Verdict   Verdict `json:"status"`
	Message   string  `json:"message"`
	Stored    ids.ID  `json:"storedFingerprint"`
	Computed  ids.ID  `json:"computedFingerprint"`
	TxRef     string  `json:"txRef"`
}

// VerifyContent recomputes a locked subject's content fingerprint and
// compares it with the one recorded at lock time.
func (s *Service) VerifyContent(ctx context.Context, subjectID int64, p auth.Principal) (v ContentVerdict, err error) {
	defer func() {
		s.record("ContentVerify", p, subjectID, string(v.Verdict), map[string]string{"computed": v.Computed.String()}, err)
	}()

	if !p.Has(auth.RoleAdmin) {
		return ContentVerdict{}, fault.New(fault.KindForbidden, "only oversight can verify question papers")
	}
	if _, err := s.subject(subjectID); err != nil {
		return ContentVerdict{}, err
	}
	seal, locked, err := s.lockedSeal(subjectID)
	if err != nil {
		return ContentVerdict{}, err
	}
	if !locked {
		return ContentVerdict{}, fault.New(fault.KindNotFound, "question paper not locked")
	}
	items, err := s.store.ListItems(subjectID)
	if err != nil {
		return ContentVerdict{}, fault.Wrap(fault.KindInternal, "load items", err)
	}
	computed, err := fingerprint.Content(items)
	if err != nil {
		return ContentVerdict{}, fault.Wrap(fault.KindInternal, "fingerprint content", err)
	}

	v = ContentVerdict{
		SubjectID: subjectID,
		Verdict:   compare(seal.Fingerprint, computed),
		Stored:    seal.Fingerprint,
		Computed:  computed,
		TxRef:     seal.TxRef,
	}
	if v.Verdict == Verified {
		v.Message = "question paper integrity verified; no tampering detected"
	} else {
		v.Message = "mismatch detected; the question paper may have been altered"
		s.log.WarnContext(ctx, "content tampering detected", "subject", subjectID, "stored", seal.Fingerprint, "computed", computed)
	}
	return v, nil
}

// OutcomeVerdict is the outcome of an outcome verification.
type OutcomeVerdict struct {
	SubjectID   int64   `json:"subjectId"`
	PrincipalID int64   `json:"principalId"`
	Verdict     Verdict `json:"status"`
	Message     string  `json:"message"`
	Score       int     `json:"score"`
	Stored      ids.ID  `json:"storedFingerprint"`
	Computed    ids.ID  `json:"computedFingerprint"`
	TxRef       string  `json:"txRef"`
}

// VerifyOutcome recomputes a committed outcome's fingerprint from the stored
// score and the attempt's completion time.
func (s *Service) VerifyOutcome(ctx context.Context, subjectID, principalID int64, p auth.Principal) (v OutcomeVerdict, err error) {
	defer func() {
		s.record("OutcomeVerify", p, subjectID, string(v.Verdict),
			map[string]string{"principal": strconv.FormatInt(principalID, 10)}, err)
	}()

	if !p.Has(auth.RoleAdmin) {
		return OutcomeVerdict{}, fault.New(fault.KindForbidden, "only oversight can verify results")
	}
	if _, err := s.subject(subjectID); err != nil {
		return OutcomeVerdict{}, err
	}
	attempt, err := s.store.GetAttempt(subjectID, principalID)
	if errors.Is(err, exam.ErrNotFound) {
		return OutcomeVerdict{}, fault.New(fault.KindNotFound, "taker has not attempted this exam")
	}
	if err != nil {
		return OutcomeVerdict{}, fault.Wrap(fault.KindInternal, "load attempt", err)
	}
	outcome, err := s.store.GetOutcome(subjectID, principalID)
	if errors.Is(err, exam.ErrNotFound) {
		return OutcomeVerdict{}, fault.New(fault.KindNotFound, "result not found")
	}
	if err != nil {
		return OutcomeVerdict{}, fault.Wrap(fault.KindInternal, "load outcome", err)
	}
	computed, err := fingerprint.Outcome(subjectID, principalID, outcome.Score, attempt.CompletedAt)
	if err != nil {
		return OutcomeVerdict{}, fault.Wrap(fault.KindInternal, "fingerprint outcome", err)
	}

	v = OutcomeVerdict{
		SubjectID:   subjectID,
		PrincipalID: principalID,
		Verdict:     compare(outcome.Fingerprint, computed),
		Score:       outcome.Score,
		Stored:      outcome.Fingerprint,
		Computed:    computed,
		TxRef:       outcome.TxRef,
	}
	if v.Verdict == Verified {
		v.Message = "result integrity verified; no tampering detected"
	} else {
		v.Message = "result mismatch detected; possible tampering"
		s.log.WarnContext(ctx, "outcome tampering detected", "subject", subjectID, "principal", principalID)
	}
	return v, nil
}

// AnchorCheck compares one locally stored fingerprint with the ledger entry
// its transaction reference points at.
type AnchorCheck struct {
	Kind        ledger.EntryKind `json:"kind"`
	PrincipalID int64            `json:"principalId,omitempty"`
	TxRef       string           `json:"txRef"`
	Stored      ids.ID           `json:"storedFingerprint"`
	Anchored    ids.ID           `json:"anchoredFingerprint"`
	Verdict     Verdict          `json:"status"`
	Problem     string           `json:"problem,omitempty"`
}

// VerifyAnchors checks the subject's seal and every committed outcome against
// the ledger. It needs a ledger that can look entries up.
func (s *Service) VerifyAnchors(ctx context.Context, subjectID int64, p auth.Principal) (checks []AnchorCheck, err error) {
	defer func() {
		result := string(Verified)
		for _, c := range checks {
			if c.Verdict != Verified {
				result = string(Tampered)
			}
		}
		s.record("AnchorVerify", p, subjectID, result, nil, err)
	}()

	if !p.Has(auth.RoleAdmin) {
		return nil, fault.New(fault.KindForbidden, "only oversight can verify ledger anchors")
	}
	reader, ok := s.ledger.(ledger.Reader)
	if !ok {
		return nil, fault.New(fault.KindInvalidInput, "the configured ledger cannot look entries up")
	}
	if _, err := s.subject(subjectID); err != nil {
		return nil, err
	}
	seal, locked, err := s.lockedSeal(subjectID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fault.New(fault.KindNotFound, "question paper not locked")
	}
	outcomes, err := s.store.ListOutcomes(subjectID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list outcomes", err)
	}

	check := func(kind ledger.EntryKind, principalID int64, ref string, stored ids.ID) error {
		c := AnchorCheck{Kind: kind, PrincipalID: principalID, TxRef: ref, Stored: stored, Verdict: Tampered}
		e, err := reader.Lookup(ctx, ledger.TxRef(ref))
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			c.Problem = "no ledger entry for this reference"
		case errors.Is(err, ledger.ErrUnavailable):
			return fault.Wrap(fault.KindLedgerUnavailable, "ledger unavailable", err)
		case err != nil:
			return fault.Wrap(fault.KindInternal, "ledger lookup", err)
		default:
			c.Anchored = e.Fingerprint
			c.Problem = anchorProblem(e, kind, subjectID, principalID)
			if c.Problem == "" {
				c.Verdict = compare(stored, e.Fingerprint)
			}
		}
		checks = append(checks, c)
		return nil
	}

	if err := check(ledger.KindContent, 0, seal.TxRef, seal.Fingerprint); err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		if err := check(ledger.KindOutcome, o.PrincipalID, o.TxRef, o.Fingerprint); err != nil {
			return nil, err
		}
	}
	return checks, nil
}

func anchorProblem(e ledger.Entry, kind ledger.EntryKind, subjectID, principalID int64) string {
	switch {
	case e.Kind != kind:
		return "ledger entry is a " + string(e.Kind) + " entry"
	case e.SubjectID != subjectID:
		return "ledger entry belongs to another exam"
	case kind == ledger.KindOutcome && (e.PrincipalFingerprint == nil || *e.PrincipalFingerprint != fingerprint.Principal(principalID)):
		return "ledger entry belongs to another taker"
	}
	return ""
}
