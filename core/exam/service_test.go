package exam_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examseal/core/audit"
	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/storage"
)

var (
	admin   = auth.Principal{ID: 1, Role: auth.RoleAdmin}
	staff   = auth.Principal{ID: 2, Role: auth.RoleStaff}
	student = auth.Principal{ID: 3, Role: auth.RoleStudent}
)

type fixture struct {
	store *storage.Storage
	svc   *exam.Service
	rec   *audit.Recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, rec: &audit.Recorder{}, now: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)}
	f.svc = exam.NewService(st, exam.WithAudit(f.rec), exam.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) subject(t *testing.T) exam.Subject {
	t.Helper()
	subj, err := f.svc.CreateSubject(context.Background(), admin, exam.SubjectInput{
		Name:            "Physics",
		StartsAt:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	return subj
}

func item(subjectID, id int64) exam.Item {
	return exam.Item{
		ID:        id,
		SubjectID: subjectID,
		Question:  "Q?",
		Options:   exam.Options{A: "a", B: "b", C: "c", D: "d"},
		Correct:   "a",
	}
}

func TestCreateSubjectDefaultsAndRole(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	assert.Equal(t, int64(1), subj.ID)
	assert.Equal(t, 4, subj.CorrectCredit)
	assert.Equal(t, -1, subj.WrongPenalty)

	_, err := f.svc.CreateSubject(context.Background(), staff, exam.SubjectInput{Name: "x", StartsAt: f.now, DurationMinutes: 5})
	assert.True(t, fault.Is(err, fault.KindForbidden))

	_, err = f.svc.CreateSubject(context.Background(), admin, exam.SubjectInput{Name: " ", StartsAt: f.now, DurationMinutes: 5})
	assert.True(t, fault.Is(err, fault.KindInvalidInput))

	zero := 0
	custom, err := f.svc.CreateSubject(context.Background(), admin, exam.SubjectInput{Name: "y", StartsAt: f.now, DurationMinutes: 5, WrongPenalty: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, custom.WrongPenalty)
}

func TestPutItemValidatesAndNormalizes(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()

	it, err := f.svc.PutItem(ctx, staff, item(subj.ID, 5))
	require.NoError(t, err)
	assert.Equal(t, exam.ChoiceA, it.Correct)

	auto, err := f.svc.PutItem(ctx, staff, item(subj.ID, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(6), auto.ID)

	bad := item(subj.ID, 7)
	bad.Options.C = ""
	_, err = f.svc.PutItem(ctx, staff, bad)
	assert.True(t, fault.Is(err, fault.KindInvalidInput))

	bad = item(subj.ID, 7)
	bad.Correct = "E"
	_, err = f.svc.PutItem(ctx, staff, bad)
	assert.True(t, fault.Is(err, fault.KindInvalidInput))

	_, err = f.svc.PutItem(ctx, student, item(subj.ID, 8))
	assert.True(t, fault.Is(err, fault.KindForbidden))

	_, err = f.svc.PutItem(ctx, staff, item(42, 1))
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestContentEditsRejectedOnceLocked(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()
	_, err := f.svc.PutItem(ctx, staff, item(subj.ID, 1))
	require.NoError(t, err)

	require.NoError(t, f.store.Write(func(b *storage.Batch) error {
		b.PutSeal(exam.Seal{SubjectID: subj.ID, Locked: true})
		return nil
	}))

	_, err = f.svc.PutItem(ctx, staff, item(subj.ID, 2))
	assert.True(t, fault.Is(err, fault.KindAlreadyLocked))
	err = f.svc.DeleteItem(ctx, staff, subj.ID, 1)
	assert.True(t, fault.Is(err, fault.KindAlreadyLocked))
}

func TestDeleteItem(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()
	_, err := f.svc.PutItem(ctx, staff, item(subj.ID, 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteItem(ctx, staff, subj.ID, 1))
	assert.True(t, fault.Is(f.svc.DeleteItem(ctx, staff, subj.ID, 1), fault.KindNotFound))
}

func TestStartAttemptOncePerSubject(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()

	a, err := f.svc.StartAttempt(ctx, student, subj.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.AttemptStarted, a.Status)

	_, err = f.svc.StartAttempt(ctx, student, subj.ID)
	assert.True(t, fault.Is(err, fault.KindAlreadyFinalized))

	_, err = f.svc.StartAttempt(ctx, staff, subj.ID)
	assert.True(t, fault.Is(err, fault.KindForbidden))

	events := f.rec.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "AttemptStart", events[len(events)-1].EventType)
}

func TestStartAttemptBeforeWindow(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	f.now = subj.StartsAt.Add(-time.Second)

	_, err := f.svc.StartAttempt(context.Background(), student, subj.ID)
	assert.True(t, fault.Is(err, fault.KindForbidden))
}

func TestQuestionsHideCorrectChoice(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()
	_, err := f.svc.PutItem(ctx, staff, item(subj.ID, 1))
	require.NoError(t, err)

	_, err = f.svc.Questions(ctx, student, subj.ID)
	assert.True(t, fault.Is(err, fault.KindNotFound), "no attempt yet")

	_, err = f.svc.StartAttempt(ctx, student, subj.ID)
	require.NoError(t, err)
	_, err = f.svc.Questions(ctx, student, subj.ID)
	assert.True(t, fault.Is(err, fault.KindNotFound), "not locked yet")

	require.NoError(t, f.store.Write(func(b *storage.Batch) error {
		b.PutSeal(exam.Seal{SubjectID: subj.ID, Locked: true})
		return nil
	}))
	paper, err := f.svc.Questions(ctx, student, subj.ID)
	require.NoError(t, err)
	require.Len(t, paper.Questions, 1)
	assert.Equal(t, "Q?", paper.Questions[0].Question)
}

func TestListSubjectsStatus(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()

	list, err := f.svc.ListSubjects(ctx, student)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, exam.StatusOngoing, list[0].Status)
	assert.False(t, list[0].Locked)

	_, err = f.svc.StartAttempt(ctx, student, subj.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Write(func(b *storage.Batch) error {
		b.PutAttempt(exam.Attempt{SubjectID: subj.ID, PrincipalID: student.ID, Status: exam.AttemptSubmitted})
		return nil
	}))
	list, err = f.svc.ListSubjects(ctx, student)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusSubmitted, list[0].Status)

	f.now = subj.EndsAt().Add(time.Minute)
	list, err = f.svc.ListSubjects(ctx, auth.Principal{ID: 77, Role: auth.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, exam.StatusMissed, list[0].Status)
}

func TestMyResult(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	ctx := context.Background()

	_, err := f.svc.MyResult(ctx, student, subj.ID)
	assert.True(t, fault.Is(err, fault.KindNotFound))

	_, err = f.svc.StartAttempt(ctx, student, subj.ID)
	require.NoError(t, err)
	_, err = f.svc.MyResult(ctx, student, subj.ID)
	assert.True(t, fault.Is(err, fault.KindNotFound))

	require.NoError(t, f.store.Write(func(b *storage.Batch) error {
		b.PutOutcome(exam.OutcomeRecord{SubjectID: subj.ID, PrincipalID: student.ID, Score: 7, TxRef: "0xabc"})
		return nil
	}))
	res, err := f.svc.MyResult(ctx, student, subj.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Score)
	assert.Equal(t, "Physics", res.Name)

	_, err = f.svc.MyResult(ctx, admin, subj.ID)
	assert.True(t, fault.Is(err, fault.KindForbidden))
}

func TestContentFrozenWhileLockPending(t *testing.T) {
	f := newFixture(t)
	subj := f.subject(t)
	require.NoError(t, f.store.PutPending(exam.Pending{Kind: exam.PendingLock, SubjectID: subj.ID, Reason: "timeout"}))

	_, err := f.svc.PutItem(context.Background(), staff, item(subj.ID, 1))
	assert.True(t, fault.Is(err, fault.KindIndeterminate))
}
