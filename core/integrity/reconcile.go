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
	"examseal/core/storage"
)

// Resolution is an operator's finding about a pending ledger call.
type Resolution string

const (
	// ResolveConfirm: the ledger did record the call under TxRef.
	ResolveConfirm Resolution = "confirm"
	// ResolveDiscard: the ledger did not record the call; the protocol may run again.
	ResolveDiscard Resolution = "discard"
)

// ReconcileRequest identifies a pending marker and how to resolve it.
type ReconcileRequest struct {
	Kind        exam.PendingKind `json:"kind" validate:"oneof=lock commit"`
	PrincipalID int64            `json:"principalId" validate:"gte=0"`
	Resolution  Resolution       `json:"resolution" validate:"oneof=confirm discard"`
	TxRef       string           `json:"txRef,omitempty"`
}

// ListPending returns the subject's unresolved ledger calls.
func (s *Service) ListPending(ctx context.Context, subjectID int64, p auth.Principal) ([]exam.Pending, error) {
	if !p.Has(auth.RoleAdmin) {
		return nil, fault.New(fault.KindForbidden, "only oversight can inspect pending ledger calls")
	}
	if _, err := s.subject(subjectID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPending(subjectID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list pending markers", err)
	}
	return out, nil
}

// Reconcile resolves a pending marker. Confirming writes the local state the
// interrupted protocol would have written; discarding removes the marker so
// the protocol can be retried.
func (s *Service) Reconcile(ctx context.Context, subjectID int64, p auth.Principal, req ReconcileRequest) (resolved exam.Pending, err error) {
	defer func() {
		s.record("Reconcile", p, subjectID, string(req.Resolution), map[string]string{
			"kind":      string(req.Kind),
			"principal": strconv.FormatInt(req.PrincipalID, 10),
			"txRef":     req.TxRef,
		}, err)
	}()

	if !p.Has(auth.RoleAdmin) {
		return exam.Pending{}, fault.New(fault.KindForbidden, "only oversight can reconcile ledger calls")
	}
	var unlock func()
	switch req.Kind {
	case exam.PendingLock:
		req.PrincipalID = 0
		unlock = s.subjects.Lock(subjectKey(subjectID))
	case exam.PendingCommit:
		unlock = s.takers.Lock(takerKey(subjectID, req.PrincipalID))
	default:
		return exam.Pending{}, fault.Newf(fault.KindInvalidInput, "unknown pending kind %q", req.Kind)
	}
	defer unlock()

	marker, err := s.store.GetPending(req.Kind, subjectID, req.PrincipalID)
	if errors.Is(err, exam.ErrNotFound) {
		return exam.Pending{}, fault.New(fault.KindNotFound, "no pending ledger call for this key")
	}
	if err != nil {
		return exam.Pending{}, fault.Wrap(fault.KindInternal, "load pending marker", err)
	}

	switch req.Resolution {
	case ResolveDiscard:
		err = s.store.Write(func(b *storage.Batch) error {
			b.DeletePending(marker.Kind, marker.SubjectID, marker.PrincipalID)
			return nil
		})
		if err != nil {
			return exam.Pending{}, fault.Wrap(fault.KindInternal, "delete pending marker", err)
		}
		s.log.InfoContext(ctx, "pending ledger call discarded", "kind", marker.Kind, "subject", subjectID, "principal", marker.PrincipalID)
		return marker, nil
	case ResolveConfirm:
	default:
		return exam.Pending{}, fault.Newf(fault.KindInvalidInput, "unknown resolution %q", req.Resolution)
	}

	ref := req.TxRef
	if ref == "" {
		ref = marker.TxRef
	}
	if ref == "" {
		return exam.Pending{}, fault.New(fault.KindInvalidInput, "a transaction reference is required to confirm")
	}
	if err := s.checkAnchor(ctx, marker, ledger.TxRef(ref)); err != nil {
		return exam.Pending{}, err
	}
	marker.TxRef = ref

	switch marker.Kind {
	case exam.PendingLock:
		err = s.confirmLock(marker)
	case exam.PendingCommit:
		err = s.confirmCommit(marker)
	}
	if err != nil {
		return exam.Pending{}, err
	}
	s.log.InfoContext(ctx, "pending ledger call confirmed", "kind", marker.Kind, "subject", subjectID, "principal", marker.PrincipalID, "tx", ref)
	return marker, nil
}

// checkAnchor makes sure ref points at the entry the marker describes, when
// the ledger can be read back.
func (s *Service) checkAnchor(ctx context.Context, marker exam.Pending, ref ledger.TxRef) error {
	reader, ok := s.ledger.(ledger.Reader)
	if !ok {
		return nil
	}
	e, err := reader.Lookup(ctx, ref)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fault.New(fault.KindInvalidInput, "the ledger has no entry for this transaction reference")
	case errors.Is(err, ledger.ErrUnavailable):
		return fault.Wrap(fault.KindLedgerUnavailable, "ledger unavailable", err)
	case err != nil:
		return fault.Wrap(fault.KindInternal, "ledger lookup", err)
	}
	kind := ledger.KindContent
	if marker.Kind == exam.PendingCommit {
		kind = ledger.KindOutcome
	}
	if problem := anchorProblem(e, kind, marker.SubjectID, marker.PrincipalID); problem != "" {
		return fault.New(fault.KindInvalidInput, problem)
	}
	if e.Fingerprint != marker.Fingerprint {
		return fault.New(fault.KindInvalidInput, "ledger entry anchors a different fingerprint")
	}
	return nil
}

func (s *Service) confirmLock(marker exam.Pending) error {
	if _, locked, err := s.lockedSeal(marker.SubjectID); err != nil {
		return err
	} else if locked {
		return fault.New(fault.KindAlreadyLocked, "question paper already locked")
	}
	seal := exam.Seal{
		SubjectID:   marker.SubjectID,
		Fingerprint: marker.Fingerprint,
		TxRef:       marker.TxRef,
		Locked:      true,
		LockedAt:    s.now().UTC(),
		LockedBy:    marker.InitiatedBy,
	}
	err := s.store.Write(func(b *storage.Batch) error {
		b.PutSeal(seal)
		b.DeletePending(marker.Kind, marker.SubjectID, 0)
		return nil
	})
	if err != nil {
		return fault.Wrap(fault.KindInternal, "store seal", err)
	}
	return nil
}

func (s *Service) confirmCommit(marker exam.Pending) error {
	attempt, err := s.store.GetAttempt(marker.SubjectID, marker.PrincipalID)
	if errors.Is(err, exam.ErrNotFound) {
		return fault.New(fault.KindNotFound, "attempt not found")
	}
	if err != nil {
		return fault.Wrap(fault.KindInternal, "load attempt", err)
	}
	if attempt.Status == exam.AttemptSubmitted {
		return fault.New(fault.KindAlreadyFinalized, "exam already submitted")
	}
	// The marker must describe exactly what was anchored.
	want, err := fingerprint.Outcome(marker.SubjectID, marker.PrincipalID, marker.Score, marker.CompletedAt)
	if err != nil || want != marker.Fingerprint {
		return fault.New(fault.KindInternal, "pending marker does not match its own fingerprint")
	}
	attempt.Status = exam.AttemptSubmitted
	attempt.CompletedAt = marker.CompletedAt
	outcome := exam.OutcomeRecord{
		SubjectID:   marker.SubjectID,
		PrincipalID: marker.PrincipalID,
		Score:       marker.Score,
		Fingerprint: marker.Fingerprint,
		TxRef:       marker.TxRef,
		CompletedAt: marker.CompletedAt,
	}
	err = s.store.Write(func(b *storage.Batch) error {
		b.PutAttempt(attempt)
		b.PutOutcome(outcome)
		b.DeletePending(marker.Kind, marker.SubjectID, marker.PrincipalID)
		return nil
	})
	if err != nil {
		return fault.Wrap(fault.KindInternal, "store outcome", err)
	}
	return nil
}
