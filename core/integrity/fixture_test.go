package integrity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"examseal/core/audit"
	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/ledger"
	"examseal/core/storage"
	"examseal/types/ids"
)

var (
	admin   = auth.Principal{ID: 1, Role: auth.RoleAdmin}
	staff   = auth.Principal{ID: 2, Role: auth.RoleStaff}
	student = auth.Principal{ID: 3, Role: auth.RoleStudent}
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) RegisterContent(ctx context.Context, subjectID int64, fp ids.ID, start, end int64) (ledger.TxRef, error) {
	args := m.Called(ctx, subjectID, fp, start, end)
	return args.Get(0).(ledger.TxRef), args.Error(1)
}

func (m *mockLedger) CommitOutcome(ctx context.Context, subjectID int64, pfp, ofp ids.ID) (ledger.TxRef, error) {
	args := m.Called(ctx, subjectID, pfp, ofp)
	return args.Get(0).(ledger.TxRef), args.Error(1)
}

// lostReply records on the local ledger and then reports the outcome as
// unknown, as a gateway timing out after the write would.
type lostReply struct {
	*ledger.Local
}

func (l lostReply) RegisterContent(ctx context.Context, subjectID int64, fp ids.ID, start, end int64) (ledger.TxRef, error) {
	if _, err := l.Local.RegisterContent(ctx, subjectID, fp, start, end); err != nil {
		return "", err
	}
	return "", ledger.ErrIndeterminate
}

func (l lostReply) CommitOutcome(ctx context.Context, subjectID int64, pfp, ofp ids.ID) (ledger.TxRef, error) {
	if _, err := l.Local.CommitOutcome(ctx, subjectID, pfp, ofp); err != nil {
		return "", err
	}
	return "", ledger.ErrIndeterminate
}

// slowLedger counts calls and holds each one open for a moment.
type slowLedger struct {
	*ledger.Local
	calls atomic.Int32
	delay time.Duration
}

func (l *slowLedger) RegisterContent(ctx context.Context, subjectID int64, fp ids.ID, start, end int64) (ledger.TxRef, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	return l.Local.RegisterContent(ctx, subjectID, fp, start, end)
}

// gateLedger signals entered once RegisterContent is running and holds the
// call until release is closed.
type gateLedger struct {
	*ledger.Local
	entered chan struct{}
	release chan struct{}
}

func (l *gateLedger) RegisterContent(ctx context.Context, subjectID int64, fp ids.ID, start, end int64) (ledger.TxRef, error) {
	close(l.entered)
	<-l.release
	return l.Local.RegisterContent(ctx, subjectID, fp, start, end)
}

// failingWrites lets every read through and fails every batch write.
type failingWrites struct {
	*storage.Storage
}

func (f failingWrites) Write(func(b *storage.Batch) error) error {
	return errors.New("disk full")
}

type fixture struct {
	t     *testing.T
	store *storage.Storage
	exams *exam.Service
	rec   *audit.Recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f := &fixture{
		t:     t,
		store: st,
		rec:   &audit.Recorder{},
		now:   time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC),
	}
	f.exams = exam.NewService(st, exam.WithClock(f.clock))
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) service(l ledger.Ledger) *Service {
	return f.serviceOn(f.store, l)
}

func (f *fixture) serviceOn(store Store, l ledger.Ledger) *Service {
	return NewService(store, l, WithClock(f.clock), WithAudit(f.rec), WithLedgerTimeout(5*time.Second),
		WithSubjectLocks(f.exams.SubjectLocks()))
}

func (f *fixture) localLedger() *ledger.Local {
	l, err := ledger.OpenLocalMem()
	require.NoError(f.t, err)
	f.t.Cleanup(func() { l.Close() })
	return l
}

// subject creates a 60 minute subject starting at 09:00 with four items whose
// correct choices are A, B, C, D in id order.
func (f *fixture) subject() exam.Subject {
	f.t.Helper()
	ctx := context.Background()
	subj, err := f.exams.CreateSubject(ctx, admin, exam.SubjectInput{
		Name:            "Chemistry",
		StartsAt:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	})
	require.NoError(f.t, err)
	for i, c := range exam.Choices {
		_, err := f.exams.PutItem(ctx, staff, exam.Item{
			ID:        int64(i + 1),
			SubjectID: subj.ID,
			Question:  "Question " + string(c),
			Options:   exam.Options{A: "one", B: "two", C: "three", D: "four"},
			Correct:   c,
		})
		require.NoError(f.t, err)
	}
	return subj
}

func (f *fixture) emptySubject() exam.Subject {
	f.t.Helper()
	subj, err := f.exams.CreateSubject(context.Background(), admin, exam.SubjectInput{
		Name:            "Empty",
		StartsAt:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	})
	require.NoError(f.t, err)
	return subj
}

func (f *fixture) start(subjectID int64, p auth.Principal) {
	f.t.Helper()
	_, err := f.exams.StartAttempt(context.Background(), p, subjectID)
	require.NoError(f.t, err)
}

// scenarioAnswers: one correct, one wrong, one blank, one unknown item.
func scenarioAnswers() []exam.Answer {
	return []exam.Answer{
		{ItemID: 1, Selected: exam.ChoiceA},
		{ItemID: 2, Selected: exam.ChoiceC},
		{ItemID: 3, Selected: ""},
		{ItemID: 99, Selected: exam.ChoiceA},
	}
}
