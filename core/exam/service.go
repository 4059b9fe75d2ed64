package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"examseal/core/audit"
	"examseal/core/auth"
	"examseal/core/fault"
	"examseal/core/keylock"
	"examseal/types/ids"
)

// ErrNotFound is returned by a Store when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Default marking scheme.
const (
	DefaultCorrectCredit = 4
	DefaultWrongPenalty  = -1
)

// Store is the persistence the record-keeping service needs.
type Store interface {
	NextID(name string) (int64, error)
	BumpID(name string, id int64) error
	PutSubject(Subject) error
	GetSubject(id int64) (Subject, error)
	ListSubjects() ([]Subject, error)
	PutItem(Item) error
	GetItem(subjectID, itemID int64) (Item, error)
	DeleteItem(subjectID, itemID int64) error
	ListItems(subjectID int64) ([]Item, error)
	GetSeal(subjectID int64) (Seal, error)
	GetAttempt(subjectID, principalID int64) (Attempt, error)
	PutAttempt(Attempt) error
	GetOutcome(subjectID, principalID int64) (OutcomeRecord, error)
	GetPending(kind PendingKind, subjectID, principalID int64) (Pending, error)
}

// Service handles subjects, items and attempts. The integrity protocols live
// elsewhere; this service only refuses content edits once a subject is locked.
// Edits hold the subject's entry in locks, which the lock protocol shares.
type Service struct {
	store Store
	locks *keylock.Set
	audit audit.AuditLogger
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit sink.
func WithAudit(l audit.AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithSubjectLocks sets the per-subject lock set content edits hold.
func WithSubjectLocks(l *keylock.Set) Option {
	return func(s *Service) { s.locks = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a record-keeping service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		audit: audit.Nop{},
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = &keylock.Set{}
	}
	s.log = s.log.With("component", "exam")
	return s
}

// SubjectLocks returns the per-subject lock set, for wiring into the lock
// protocol.
func (s *Service) SubjectLocks() *keylock.Set {
	return s.locks
}

// SubjectLockKey is the key a subject's content is guarded by.
func SubjectLockKey(subjectID int64) string {
	return strconv.FormatInt(subjectID, 10)
}

// SubjectInput describes a new subject. Nil marks fall back to the defaults.
type SubjectInput struct {
	Name            string    `json:"name" validate:"required,max=200"`
	StartsAt        time.Time `json:"startsAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"gt=0,lte=1440"`
	CorrectCredit   *int      `json:"correctCredit,omitempty"`
	WrongPenalty    *int      `json:"wrongPenalty,omitempty"`
}

// CreateSubject records a new subject. Oversight only.
func (s *Service) CreateSubject(ctx context.Context, p auth.Principal, in SubjectInput) (Subject, error) {
	if !p.Has(auth.RoleAdmin) {
		return Subject{}, fault.New(fault.KindForbidden, "only oversight can create exams")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Subject{}, fault.New(fault.KindInvalidInput, "exam name is required")
	}
	if in.DurationMinutes <= 0 {
		return Subject{}, fault.New(fault.KindInvalidInput, "duration must be positive")
	}
	if in.StartsAt.IsZero() {
		return Subject{}, fault.New(fault.KindInvalidInput, "start time is required")
	}
	id, err := s.store.NextID("subject")
	if err != nil {
		return Subject{}, fault.Wrap(fault.KindInternal, "allocate subject id", err)
	}
	subj := Subject{
		ID:              id,
		Name:            in.Name,
		StartsAt:        in.StartsAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		CorrectCredit:   DefaultCorrectCredit,
		WrongPenalty:    DefaultWrongPenalty,
		CreatedBy:       p.ID,
		CreatedAt:       s.now().UTC(),
	}
	if in.CorrectCredit != nil {
		subj.CorrectCredit = *in.CorrectCredit
	}
	if in.WrongPenalty != nil {
		subj.WrongPenalty = *in.WrongPenalty
	}
	if err := s.store.PutSubject(subj); err != nil {
		return Subject{}, fault.Wrap(fault.KindInternal, "store subject", err)
	}
	s.audit.LogEvent(audit.AuditEvent{EventType: "SubjectCreate", Actor: p.String(), SubjectID: id, Result: "success"})
	s.log.InfoContext(ctx, "subject created", "subject", id, "by", p.ID)
	return subj, nil
}

// ImportSubject stores a subject with a caller-chosen id, as fixtures do.
func (s *Service) ImportSubject(subj Subject) error {
	if subj.ID <= 0 {
		return fmt.Errorf("subject id must be positive")
	}
	if err := s.store.BumpID("subject", subj.ID); err != nil {
		return err
	}
	if subj.CreatedAt.IsZero() {
		subj.CreatedAt = s.now().UTC()
	}
	subj.StartsAt = subj.StartsAt.UTC()
	return s.store.PutSubject(subj)
}

func (s *Service) subject(id int64) (Subject, error) {
	subj, err := s.store.GetSubject(id)
	if errors.Is(err, ErrNotFound) {
		return Subject{}, fault.New(fault.KindNotFound, "exam not found")
	}
	if err != nil {
		return Subject{}, fault.Wrap(fault.KindInternal, "load subject", err)
	}
	return subj, nil
}

// locked reports whether the subject's content has been sealed.
func (s *Service) locked(subjectID int64) (bool, error) {
	seal, err := s.store.GetSeal(subjectID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fault.Wrap(fault.KindInternal, "load seal", err)
	}
	return seal.Locked, nil
}

// editable fails unless the subject's content may still change: not locked,
// and no lock attempt awaiting reconciliation.
func (s *Service) editable(subjectID int64) error {
	locked, err := s.locked(subjectID)
	if err != nil {
		return err
	}
	if locked {
		return fault.New(fault.KindAlreadyLocked, "question paper already locked")
	}
	_, err = s.store.GetPending(PendingLock, subjectID, 0)
	switch {
	case err == nil:
		return fault.New(fault.KindIndeterminate, "a lock attempt is awaiting reconciliation; content is frozen")
	case !errors.Is(err, ErrNotFound):
		return fault.Wrap(fault.KindInternal, "load pending lock", err)
	}
	return nil
}

// PutItem creates or replaces an item of an unlocked subject. A zero item id
// allocates one.
func (s *Service) PutItem(ctx context.Context, p auth.Principal, it Item) (Item, error) {
	if !p.Has(auth.RoleStaff) {
		return Item{}, fault.New(fault.KindForbidden, "only staff can edit question papers")
	}
	if _, err := s.subject(it.SubjectID); err != nil {
		return Item{}, err
	}
	unlock := s.locks.Lock(SubjectLockKey(it.SubjectID))
	defer unlock()
	if err := s.editable(it.SubjectID); err != nil {
		return Item{}, err
	}
	if err := checkItem(&it); err != nil {
		return Item{}, err
	}
	var err error
	if it.ID == 0 {
		if it.ID, err = s.store.NextID("item"); err != nil {
			return Item{}, fault.Wrap(fault.KindInternal, "allocate item id", err)
		}
	} else if err := s.store.BumpID("item", it.ID); err != nil {
		return Item{}, fault.Wrap(fault.KindInternal, "bump item id", err)
	}
	it.CreatedBy = p.ID
	if err := s.store.PutItem(it); err != nil {
		return Item{}, fault.Wrap(fault.KindInternal, "store item", err)
	}
	s.log.DebugContext(ctx, "item stored", "subject", it.SubjectID, "item", it.ID)
	return it, nil
}

func checkItem(it *Item) error {
	if it.ID < 0 {
		return fault.New(fault.KindInvalidInput, "question id must not be negative")
	}
	it.Question = strings.TrimSpace(it.Question)
	if it.Question == "" {
		return fault.New(fault.KindInvalidInput, "question text is required")
	}
	for _, label := range Choices {
		if strings.TrimSpace(it.Options.Get(label)) == "" {
			return fault.Newf(fault.KindInvalidInput, "option %s is required", label)
		}
	}
	c, err := ParseChoice(string(it.Correct))
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "correct option must be one of A, B, C, D", err)
	}
	it.Correct = c
	return nil
}

// DeleteItem removes an item of an unlocked subject.
func (s *Service) DeleteItem(ctx context.Context, p auth.Principal, subjectID, itemID int64) error {
	if !p.Has(auth.RoleStaff) {
		return fault.New(fault.KindForbidden, "only staff can edit question papers")
	}
	if _, err := s.subject(subjectID); err != nil {
		return err
	}
	unlock := s.locks.Lock(SubjectLockKey(subjectID))
	defer unlock()
	if err := s.editable(subjectID); err != nil {
		return err
	}
	if _, err := s.store.GetItem(subjectID, itemID); errors.Is(err, ErrNotFound) {
		return fault.New(fault.KindNotFound, "question not found")
	} else if err != nil {
		return fault.Wrap(fault.KindInternal, "load item", err)
	}
	if err := s.store.DeleteItem(subjectID, itemID); err != nil {
		return fault.Wrap(fault.KindInternal, "delete item", err)
	}
	s.log.DebugContext(ctx, "item deleted", "subject", subjectID, "item", itemID)
	return nil
}

// StartAttempt opens the principal's single attempt at a subject.
func (s *Service) StartAttempt(ctx context.Context, p auth.Principal, subjectID int64) (Attempt, error) {
	if !p.Has(auth.RoleStudent) {
		return Attempt{}, fault.New(fault.KindForbidden, "only students can start exams")
	}
	subj, err := s.subject(subjectID)
	if err != nil {
		return Attempt{}, err
	}
	now := s.now().UTC()
	if now.Before(subj.StartsAt) {
		return Attempt{}, fault.New(fault.KindForbidden, "exam has not started yet")
	}
	if _, err := s.store.GetAttempt(subjectID, p.ID); err == nil {
		return Attempt{}, fault.New(fault.KindAlreadyFinalized, "exam already started or submitted")
	} else if !errors.Is(err, ErrNotFound) {
		return Attempt{}, fault.Wrap(fault.KindInternal, "load attempt", err)
	}
	a := Attempt{SubjectID: subjectID, PrincipalID: p.ID, Status: AttemptStarted, StartedAt: now}
	if err := s.store.PutAttempt(a); err != nil {
		return Attempt{}, fault.Wrap(fault.KindInternal, "store attempt", err)
	}
	s.audit.LogEvent(audit.AuditEvent{EventType: "AttemptStart", Actor: p.String(), SubjectID: subjectID, Result: "success"})
	s.log.InfoContext(ctx, "attempt started", "subject", subjectID, "principal", p.ID)
	return a, nil
}

// PaperItem is an item as shown to a taker: no correct choice.
type PaperItem struct {
	ID       int64   `json:"id"`
	Question string  `json:"question"`
	Options  Options `json:"options"`
}

// Paper is the question paper served during an attempt.
type Paper struct {
	SubjectID int64       `json:"subjectId"`
	Name      string      `json:"exam"`
	Questions []PaperItem `json:"questions"`
}

// Questions serves the locked paper to a taker with an open attempt.
func (s *Service) Questions(ctx context.Context, p auth.Principal, subjectID int64) (Paper, error) {
	if !p.Has(auth.RoleStudent) {
		return Paper{}, fault.New(fault.KindForbidden, "only students can access question papers")
	}
	subj, err := s.subject(subjectID)
	if err != nil {
		return Paper{}, err
	}
	a, err := s.store.GetAttempt(subjectID, p.ID)
	if errors.Is(err, ErrNotFound) {
		return Paper{}, fault.New(fault.KindNotFound, "exam not started")
	}
	if err != nil {
		return Paper{}, fault.Wrap(fault.KindInternal, "load attempt", err)
	}
	if a.Status == AttemptSubmitted {
		return Paper{}, fault.New(fault.KindAlreadyFinalized, "exam already submitted")
	}
	locked, err := s.locked(subjectID)
	if err != nil {
		return Paper{}, err
	}
	if !locked {
		return Paper{}, fault.New(fault.KindNotFound, "question paper not locked")
	}
	items, err := s.store.ListItems(subjectID)
	if err != nil {
		return Paper{}, fault.Wrap(fault.KindInternal, "load items", err)
	}
	paper := Paper{SubjectID: subjectID, Name: subj.Name, Questions: make([]PaperItem, 0, len(items))}
	for _, it := range items {
		paper.Questions = append(paper.Questions, PaperItem{ID: it.ID, Question: it.Question, Options: it.Options})
	}
	return paper, nil
}

// Listing is a subject with the caller's schedule status.
type Listing struct {
	Subject
	EndsAt time.Time     `json:"endsAt"`
	Status DisplayStatus `json:"status"`
	Locked bool          `json:"locked"`
}

// ListSubjects lists every subject with the caller's status.
func (s *Service) ListSubjects(ctx context.Context, p auth.Principal) ([]Listing, error) {
	subjects, err := s.store.ListSubjects()
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list subjects", err)
	}
	now := s.now().UTC()
	out := make([]Listing, 0, len(subjects))
	for _, subj := range subjects {
		var attempt *Attempt
		if a, err := s.store.GetAttempt(subj.ID, p.ID); err == nil {
			attempt = &a
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fault.Wrap(fault.KindInternal, "load attempt", err)
		}
		locked, err := s.locked(subj.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Listing{
			Subject: subj,
			EndsAt:  subj.EndsAt(),
			Status:  Status(subj, attempt, now),
			Locked:  locked,
		})
	}
	return out, nil
}

// Result is a taker's view of their committed outcome.
type Result struct {
	SubjectID   int64     `json:"subjectId"`
	Name        string    `json:"exam"`
	Score       int       `json:"score"`
	Fingerprint ids.ID    `json:"resultHash"`
	TxRef       string    `json:"txRef"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// MyResult returns the caller's own outcome for a subject.
func (s *Service) MyResult(ctx context.Context, p auth.Principal, subjectID int64) (Result, error) {
	if !p.Has(auth.RoleStudent) {
		return Result{}, fault.New(fault.KindForbidden, "only students can view their results")
	}
	subj, err := s.subject(subjectID)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.store.GetAttempt(subjectID, p.ID); errors.Is(err, ErrNotFound) {
		return Result{}, fault.New(fault.KindNotFound, "you have not attempted this exam")
	} else if err != nil {
		return Result{}, fault.Wrap(fault.KindInternal, "load attempt", err)
	}
	o, err := s.store.GetOutcome(subjectID, p.ID)
	if errors.Is(err, ErrNotFound) {
		return Result{}, fault.New(fault.KindNotFound, "result not published yet")
	}
	if err != nil {
		return Result{}, fault.Wrap(fault.KindInternal, "load outcome", err)
	}
	return Result{
		SubjectID:   subjectID,
		Name:        subj.Name,
		Score:       o.Score,
		Fingerprint: o.Fingerprint,
		TxRef:       o.TxRef,
		SubmittedAt: o.CompletedAt,
	}, nil
}
