package integrity

import (
	"context"
	"errors"
	"time"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/fingerprint"
	"examseal/core/storage"
	"examseal/types/ids"
)

// OutcomeReceipt is returned by a successful outcome commit.
type OutcomeReceipt struct {
	SubjectID   int64     `json:"subjectId"`
	PrincipalID int64     `json:"principalId"`
	Score       int       `json:"score"`
	Fingerprint ids.ID    `json:"resultHash"`
	TxRef       string    `json:"txRef"`
	CompletedAt time.Time `json:"completedAt"`
}

// CommitOutcome scores a taker's answers, anchors the outcome fingerprint on
// the ledger, then finalizes the attempt and stores the outcome together.
// It succeeds at most once per attempt.
func (s *Service) CommitOutcome(ctx context.Context, subjectID int64, p auth.Principal, answers []exam.Answer) (receipt OutcomeReceipt, err error) {
	defer func() {
		meta := map[string]string{}
		if err == nil {
			meta["fingerprint"] = receipt.Fingerprint.String()
			meta["txRef"] = receipt.TxRef
		}
		s.record("OutcomeCommit", p, subjectID, "", meta, err)
	}()

	if !p.Has(auth.RoleStudent) {
		return OutcomeReceipt{}, fault.New(fault.KindForbidden, "only students can submit exams")
	}

	unlock := s.takers.Lock(takerKey(subjectID, p.ID))
	defer unlock()

	subj, err := s.subject(subjectID)
	if err != nil {
		return OutcomeReceipt{}, err
	}
	attempt, err := s.store.GetAttempt(subjectID, p.ID)
	if errors.Is(err, exam.ErrNotFound) {
		return OutcomeReceipt{}, fault.New(fault.KindNotFound, "exam not started")
	}
	if err != nil {
		return OutcomeReceipt{}, fault.Wrap(fault.KindInternal, "load attempt", err)
	}
	if attempt.Status == exam.AttemptSubmitted {
		return OutcomeReceipt{}, fault.New(fault.KindAlreadyFinalized, "exam already submitted")
	}
	if err := s.pending(exam.PendingCommit, subjectID, p.ID); err != nil {
		return OutcomeReceipt{}, err
	}
	if _, locked, err := s.lockedSeal(subjectID); err != nil {
		return OutcomeReceipt{}, err
	} else if !locked {
		return OutcomeReceipt{}, fault.New(fault.KindNotFound, "question paper not locked")
	}
	items, err := s.store.ListItems(subjectID)
	if err != nil {
		return OutcomeReceipt{}, fault.Wrap(fault.KindInternal, "load items", err)
	}

	score := exam.Score(items, answers, subj.CorrectCredit, subj.WrongPenalty)
	completedAt := s.now().UTC().Truncate(time.Microsecond)
	ofp, err := fingerprint.Outcome(subjectID, p.ID, score, completedAt)
	if err != nil {
		return OutcomeReceipt{}, fault.Wrap(fault.KindInternal, "fingerprint outcome", err)
	}
	pfp := fingerprint.Principal(p.ID)

	lctx, cancel := s.detached(ctx)
	defer cancel()

	called := time.Now()
	ref, err := s.ledger.CommitOutcome(lctx, subjectID, pfp, ofp)
	s.observeLedger("commit_outcome", called, err)
	marker := exam.Pending{
		Kind:        exam.PendingCommit,
		SubjectID:   subjectID,
		PrincipalID: p.ID,
		InitiatedBy: p.ID,
		Fingerprint: ofp,
		Score:       score,
		CompletedAt: completedAt,
	}
	if err != nil {
		return OutcomeReceipt{}, s.ledgerFailure(lctx, marker, err)
	}

	attempt.Status = exam.AttemptSubmitted
	attempt.CompletedAt = completedAt
	outcome := exam.OutcomeRecord{
		SubjectID:   subjectID,
		PrincipalID: p.ID,
		Score:       score,
		Fingerprint: ofp,
		TxRef:       string(ref),
		CompletedAt: completedAt,
	}
	if err := s.store.Write(func(b *storage.Batch) error {
		b.PutAttempt(attempt)
		b.PutOutcome(outcome)
		return nil
	}); err != nil {
		marker.TxRef = string(ref)
		return OutcomeReceipt{}, s.markPending(lctx, marker, err)
	}

	s.log.InfoContext(ctx, "outcome committed",
		"subject", subjectID, "principal", p.ID, "score", score, "tx", ref)
	return OutcomeReceipt{
		SubjectID:   subjectID,
		PrincipalID: p.ID,
		Score:       score,
		Fingerprint: ofp,
		TxRef:       outcome.TxRef,
		CompletedAt: completedAt,
	}, nil
}
