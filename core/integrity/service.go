// Package integrity runs the protocols that make exam content and results
// tamper-evident: locking a subject's content to a ledger-anchored
// fingerprint, committing each outcome the same way, and verifying stored
// records against freshly computed fingerprints.
//
// Both commit protocols call the ledger first and write local state only once
// the ledger has answered. A ledger answer that never arrives leaves a pending
// marker behind, and the protocol refuses to run again for that key until an
// operator reconciles it.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"examseal/core/audit"
	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/keylock"
	"examseal/core/ledger"
	"examseal/core/storage"
)

// Store is the record store the protocols read and write.
type Store interface {
	GetSubject(id int64) (exam.Subject, error)
	ListItems(subjectID int64) ([]exam.Item, error)
	GetSeal(subjectID int64) (exam.Seal, error)
	GetAttempt(subjectID, principalID int64) (exam.Attempt, error)
	GetOutcome(subjectID, principalID int64) (exam.OutcomeRecord, error)
	ListOutcomes(subjectID int64) ([]exam.OutcomeRecord, error)
	GetPending(kind exam.PendingKind, subjectID, principalID int64) (exam.Pending, error)
	PutPending(exam.Pending) error
	ListPending(subjectID int64) ([]exam.Pending, error)
	Write(fn func(b *storage.Batch) error) error
}

// DefaultLedgerTimeout bounds a ledger call when no timeout is configured.
const DefaultLedgerTimeout = 30 * time.Second

// Service runs the lock, commit and verification protocols.
type Service struct {
	store   Store
	ledger  ledger.Ledger
	audit   audit.AuditLogger
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration

	subjects *keylock.Set // lock and content reconciliation, shared with content edits
	takers   keylock.Set  // outcome commits, per (subject, principal)
}

// Option configures a Service.
type Option func(*Service)

func WithAudit(l audit.AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSubjectLocks shares the per-subject lock set with the record-keeping
// service, so content edits and Lock exclude each other.
func WithSubjectLocks(l *keylock.Set) Option {
	return func(s *Service) { s.subjects = l }
}

// WithLedgerTimeout bounds each ledger call together with the local write
// that follows it.
func WithLedgerTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService wires the protocols to a store and a ledger.
func NewService(store Store, l ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		ledger:  l,
		audit:   audit.Nop{},
		log:     slog.Default(),
		now:     time.Now,
		timeout: DefaultLedgerTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.subjects == nil {
		s.subjects = &keylock.Set{}
	}
	s.log = s.log.With("component", "integrity")
	return s
}

func subjectKey(subjectID int64) string {
	return exam.SubjectLockKey(subjectID)
}

func takerKey(subjectID, principalID int64) string {
	return fmt.Sprintf("%d/%d", subjectID, principalID)
}

// detached derives the context for a ledger call and the write after it.
// The caller going away must not cut the pair in half, so cancellation is
// dropped and only the ledger timeout applies.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) subject(id int64) (exam.Subject, error) {
	subj, err := s.store.GetSubject(id)
	if errors.Is(err, exam.ErrNotFound) {
		return exam.Subject{}, fault.New(fault.KindNotFound, "exam not found")
	}
	if err != nil {
		return exam.Subject{}, fault.Wrap(fault.KindInternal, "load subject", err)
	}
	return subj, nil
}

// lockedSeal returns the subject's seal, or ok=false when it is not locked.
func (s *Service) lockedSeal(subjectID int64) (seal exam.Seal, ok bool, err error) {
	seal, err = s.store.GetSeal(subjectID)
	if errors.Is(err, exam.ErrNotFound) {
		return exam.Seal{}, false, nil
	}
	if err != nil {
		return exam.Seal{}, false, fault.Wrap(fault.KindInternal, "load seal", err)
	}
	return seal, seal.Locked, nil
}

// pending fails with Indeterminate when a marker exists for the key.
func (s *Service) pending(kind exam.PendingKind, subjectID, principalID int64) error {
	p, err := s.store.GetPending(kind, subjectID, principalID)
	switch {
	case errors.Is(err, exam.ErrNotFound):
		return nil
	case err != nil:
		return fault.Wrap(fault.KindInternal, "load pending marker", err)
	}
	return fault.Newf(fault.KindIndeterminate,
		"a previous %s attempt recorded at %s has an unknown ledger outcome; reconcile it before retrying",
		kind, p.RecordedAt.Format(time.RFC3339))
}

// ledgerFailure turns a failed ledger call into a protocol error. Calls that
// may have taken effect leave a pending marker behind.
func (s *Service) ledgerFailure(ctx context.Context, marker exam.Pending, err error) error {
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return fault.Wrap(fault.KindLedgerUnavailable, "ledger unavailable; nothing was recorded", err)
	case errors.Is(err, ledger.ErrRejected):
		return fault.Wrap(fault.KindLedgerUnavailable, "ledger refused the request: "+err.Error(), err)
	}
	return s.markPending(ctx, marker, err)
}

func (s *Service) markPending(ctx context.Context, marker exam.Pending, cause error) error {
	marker.Reason = cause.Error()
	marker.RecordedAt = s.now().UTC()
	pendingRecorded.WithLabelValues(string(marker.Kind)).Inc()
	if perr := s.store.PutPending(marker); perr != nil {
		s.log.ErrorContext(ctx, "pending marker not recorded",
			"kind", marker.Kind, "subject", marker.SubjectID, "principal", marker.PrincipalID, "err", perr)
		return fault.Wrap(fault.KindIndeterminate, "ledger outcome unknown and the pending marker could not be recorded; reconcile manually", errors.Join(cause, perr))
	}
	s.log.WarnContext(ctx, "ledger outcome unknown, pending marker recorded",
		"kind", marker.Kind, "subject", marker.SubjectID, "principal", marker.PrincipalID, "reason", marker.Reason)
	return fault.Wrap(fault.KindIndeterminate, "ledger outcome unknown; reconcile before retrying", cause)
}

func (s *Service) observeLedger(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		outcome = "unavailable"
	case errors.Is(err, ledger.ErrRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "indeterminate"
	}
	ledgerCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// record counts and audits one protocol invocation. result overrides the
// success label, as verification does with its verdict.
func (s *Service) record(op string, p auth.Principal, subjectID int64, result string, meta map[string]string, err error) {
	label := "ok"
	if result == "" {
		result = "success"
	}
	var reason string
	if err != nil {
		label = string(fault.KindOf(err))
		result = "failure"
		reason = fault.PublicMessage(err)
	}
	protocolOps.WithLabelValues(op, label).Inc()
	s.audit.LogEvent(audit.AuditEvent{
		EventType: op,
		Actor:     p.String(),
		SubjectID: subjectID,
		Result:    result,
		Reason:    reason,
		Metadata:  meta,
	})
}
