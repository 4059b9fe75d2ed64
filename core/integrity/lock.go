package integrity

import (
	"context"
	"time"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/fingerprint"
	"examseal/core/storage"
	"examseal/types/ids"
)

// LockReceipt is returned by a successful lock.
type LockReceipt struct {
	SubjectID   int64     `json:"subjectId"`
	Fingerprint ids.ID    `json:"fingerprint"`
	TxRef       string    `json:"txRef"`
	LockedAt    time.Time `json:"lockedAt"`
}

// Lock fingerprints a subject's content, anchors it on the ledger and marks
// the subject locked. It succeeds at most once per subject.
func (s *Service) Lock(ctx context.Context, subjectID int64, p auth.Principal) (receipt LockReceipt, err error) {
	defer func() {
		meta := map[string]string{}
		if err == nil {
			meta["fingerprint"] = receipt.Fingerprint.String()
			meta["txRef"] = receipt.TxRef
		}
		s.record("ContentLock", p, subjectID, "", meta, err)
	}()

	if !p.Has(auth.RoleStaff) {
		return LockReceipt{}, fault.New(fault.KindForbidden, "only staff can lock question papers")
	}

	unlock := s.subjects.Lock(subjectKey(subjectID))
	defer unlock()

	subj, err := s.subject(subjectID)
	if err != nil {
		return LockReceipt{}, err
	}
	if _, locked, err := s.lockedSeal(subjectID); err != nil {
		return LockReceipt{}, err
	} else if locked {
		return LockReceipt{}, fault.New(fault.KindAlreadyLocked, "question paper already locked")
	}
	if err := s.pending(exam.PendingLock, subjectID, 0); err != nil {
		return LockReceipt{}, err
	}
	items, err := s.store.ListItems(subjectID)
	if err != nil {
		return LockReceipt{}, fault.Wrap(fault.KindInternal, "load items", err)
	}
	if len(items) == 0 {
		return LockReceipt{}, fault.New(fault.KindEmptyContent, "question paper has no questions")
	}

	fp, err := fingerprint.Content(items)
	if err != nil {
		return LockReceipt{}, fault.Wrap(fault.KindInternal, "fingerprint content", err)
	}
	start, end := subj.Window()

	lctx, cancel := s.detached(ctx)
	defer cancel()

	called := time.Now()
	ref, err := s.ledger.RegisterContent(lctx, subjectID, fp, start, end)
	s.observeLedger("register_content", called, err)
	marker := exam.Pending{
		Kind:        exam.PendingLock,
		SubjectID:   subjectID,
		InitiatedBy: p.ID,
		Fingerprint: fp,
	}
	if err != nil {
		return LockReceipt{}, s.ledgerFailure(lctx, marker, err)
	}

	seal := exam.Seal{
		SubjectID:   subjectID,
		Fingerprint: fp,
		TxRef:       string(ref),
		Locked:      true,
		LockedAt:    s.now().UTC(),
		LockedBy:    p.ID,
	}
	if err := s.store.Write(func(b *storage.Batch) error {
		b.PutSeal(seal)
		return nil
	}); err != nil {
		marker.TxRef = string(ref)
		return LockReceipt{}, s.markPending(lctx, marker, err)
	}

	s.log.InfoContext(ctx, "question paper locked",
		"subject", subjectID, "items", len(items), "fingerprint", fp, "tx", ref)
	return LockReceipt{
		SubjectID:   subjectID,
		Fingerprint: fp,
		TxRef:       seal.TxRef,
		LockedAt:    seal.LockedAt,
	}, nil
}
