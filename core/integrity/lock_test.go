package integrity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/fingerprint"
	"examseal/core/ledger"
)

func TestLockAnchorsContent(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	items, err := f.store.ListItems(subj.ID)
	require.NoError(t, err)
	want, err := fingerprint.Content(items)
	require.NoError(t, err)
	start, end := subj.Window()

	m := &mockLedger{}
	m.On("RegisterContent", mock.Anything, subj.ID, want, start, end).Return(ledger.TxRef("0xfeed"), nil).Once()
	svc := f.service(m)

	receipt, err := svc.Lock(context.Background(), subj.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, want, receipt.Fingerprint)
	assert.Equal(t, "0xfeed", receipt.TxRef)
	m.AssertExpectations(t)

	seal, err := f.store.GetSeal(subj.ID)
	require.NoError(t, err)
	assert.True(t, seal.Locked)
	assert.Equal(t, staff.ID, seal.LockedBy)

	_, err = svc.Lock(context.Background(), subj.ID, staff)
	assert.True(t, fault.Is(err, fault.KindAlreadyLocked))
	m.AssertNumberOfCalls(t, "RegisterContent", 1)

	events := f.rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "ContentLock", events[0].EventType)
	assert.Equal(t, "success", events[0].Result)
	assert.Equal(t, "failure", events[1].Result)
}

func TestLockPreconditionsNeverReachLedger(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	empty := f.emptySubject()
	m := &mockLedger{}
	svc := f.service(m)
	ctx := context.Background()

	cases := []struct {
		name      string
		subjectID int64
		p         auth.Principal
		want      fault.Kind
	}{
		{"student on missing subject", 404, student, fault.KindForbidden},
		{"admin on real subject", subj.ID, admin, fault.KindForbidden},
		{"missing subject", 404, staff, fault.KindNotFound},
		{"no items", empty.ID, staff, fault.KindEmptyContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Lock(ctx, tc.subjectID, tc.p)
			assert.Equal(t, tc.want, fault.KindOf(err))
		})
	}
	m.AssertNotCalled(t, "RegisterContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLockIsExclusiveUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	l := &slowLedger{Local: f.localLedger(), delay: 20 * time.Millisecond}
	svc := f.service(l)

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Lock(context.Background(), subj.ID, staff)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case fault.Is(err, fault.KindAlreadyLocked):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Zero(t, svc.subjects.Len())
}

func TestLockLedgerUnavailableLeavesSubjectUnlocked(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	m := &mockLedger{}
	m.On("RegisterContent", mock.Anything, subj.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.TxRef(""), ledger.ErrUnavailable).Once()
	m.On("RegisterContent", mock.Anything, subj.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.TxRef("0x01"), nil).Once()
	svc := f.service(m)
	ctx := context.Background()

	before := testutil.ToFloat64(protocolOps.WithLabelValues("ContentLock", string(fault.KindLedgerUnavailable)))
	_, err := svc.Lock(ctx, subj.ID, staff)
	assert.True(t, fault.Is(err, fault.KindLedgerUnavailable))
	assert.Equal(t, before+1, testutil.ToFloat64(protocolOps.WithLabelValues("ContentLock", string(fault.KindLedgerUnavailable))))

	_, err = f.store.GetSeal(subj.ID)
	assert.ErrorIs(t, err, exam.ErrNotFound)
	pending, err := f.store.ListPending(subj.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.exams.PutItem(ctx, staff, exam.Item{ID: 9, SubjectID: subj.ID, Question: "late", Options: exam.Options{A: "a", B: "b", C: "c", D: "d"}, Correct: exam.ChoiceA})
	require.NoError(t, err, "content stays editable after a failed lock")

	receipt, err := svc.Lock(ctx, subj.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, "0x01", receipt.TxRef)
	m.AssertExpectations(t)
}

func TestLockRejectedByLedger(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	m := &mockLedger{}
	m.On("RegisterContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.TxRef(""), ledger.ErrRejected)
	_, err := f.service(m).Lock(context.Background(), subj.ID, staff)
	assert.True(t, fault.Is(err, fault.KindLedgerUnavailable))

	pending, err := f.store.ListPending(subj.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLockIndeterminateBlocksRetryUntilDiscarded(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	m := &mockLedger{}
	m.On("RegisterContent", mock.Anything, subj.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.TxRef(""), ledger.ErrIndeterminate).Once()
	svc := f.service(m)
	ctx := context.Background()

	_, err := svc.Lock(ctx, subj.ID, staff)
	require.True(t, fault.Is(err, fault.KindIndeterminate))

	pending, err := svc.ListPending(ctx, subj.ID, admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, exam.PendingLock, pending[0].Kind)
	assert.Equal(t, staff.ID, pending[0].InitiatedBy)
	assert.False(t, pending[0].Fingerprint.IsEmpty())

	_, err = svc.Lock(ctx, subj.ID, staff)
	assert.True(t, fault.Is(err, fault.KindIndeterminate))
	m.AssertNumberOfCalls(t, "RegisterContent", 1)

	assert.True(t, fault.Is(f.exams.DeleteItem(ctx, staff, subj.ID, 1), fault.KindIndeterminate))

	_, err = svc.Reconcile(ctx, subj.ID, staff, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveDiscard})
	assert.True(t, fault.Is(err, fault.KindForbidden))

	_, err = svc.Reconcile(ctx, subj.ID, admin, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveDiscard})
	require.NoError(t, err)

	m.On("RegisterContent", mock.Anything, subj.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.TxRef("0x02"), nil).Once()
	_, err = svc.Lock(ctx, subj.ID, staff)
	require.NoError(t, err)
}

func TestLockIndeterminateConfirmedAgainstLedger(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	local := f.localLedger()
	svc := f.service(lostReply{local})
	ctx := context.Background()

	_, err := svc.Lock(ctx, subj.ID, staff)
	require.True(t, fault.Is(err, fault.KindIndeterminate))

	entry, err := local.ContentEntry(ctx, subj.ID)
	require.NoError(t, err)

	_, err = svc.Reconcile(ctx, subj.ID, admin, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveConfirm})
	assert.True(t, fault.Is(err, fault.KindInvalidInput), "confirm needs a reference")

	_, err = svc.Reconcile(ctx, subj.ID, admin, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveConfirm, TxRef: "0x" + entry.PrevHash.String()})
	assert.True(t, fault.Is(err, fault.KindInvalidInput), "unknown reference")

	resolved, err := svc.Reconcile(ctx, subj.ID, admin, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveConfirm, TxRef: string(entry.TxRef())})
	require.NoError(t, err)
	assert.Equal(t, string(entry.TxRef()), resolved.TxRef)

	seal, err := f.store.GetSeal(subj.ID)
	require.NoError(t, err)
	assert.True(t, seal.Locked)
	assert.Equal(t, staff.ID, seal.LockedBy)

	v, err := svc.VerifyContent(ctx, subj.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, Verified, v.Verdict)

	_, err = svc.Reconcile(ctx, subj.ID, admin, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveConfirm, TxRef: string(entry.TxRef())})
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestLockLocalWriteFailureKeepsReference(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	local := f.localLedger()
	broken := f.serviceOn(failingWrites{f.store}, local)
	ctx := context.Background()

	_, err := broken.Lock(ctx, subj.ID, staff)
	require.True(t, fault.Is(err, fault.KindIndeterminate))

	marker, err := f.store.GetPending(exam.PendingLock, subj.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, marker.TxRef)

	svc := f.service(local)
	_, err = svc.Reconcile(ctx, subj.ID, admin, ReconcileRequest{Kind: exam.PendingLock, Resolution: ResolveConfirm})
	require.NoError(t, err)
	seal, err := f.store.GetSeal(subj.ID)
	require.NoError(t, err)
	assert.Equal(t, marker.TxRef, seal.TxRef)
}

func TestLockSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &mockLedger{}
	m.On("RegisterContent", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), subj.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.TxRef("0x03"), nil).Once()

	_, err := f.service(m).Lock(ctx, subj.ID, staff)
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestLockExcludesConcurrentContentEdits(t *testing.T) {
	f := newFixture(t)
	subj := f.subject()
	ctx := context.Background()
	l := &gateLedger{Local: f.localLedger(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := f.service(l)

	locked := make(chan error, 1)
	go func() {
		_, err := svc.Lock(ctx, subj.ID, staff)
		locked <- err
	}()
	<-l.entered

	edited := make(chan error, 2)
	go func() {
		_, err := f.exams.PutItem(ctx, staff, exam.Item{
			ID:        2,
			SubjectID: subj.ID,
			Question:  "Question B",
			Options:   exam.Options{A: "one", B: "two", C: "three", D: "four"},
			Correct:   exam.ChoiceC,
		})
		edited <- err
	}()
	go func() {
		edited <- f.exams.DeleteItem(ctx, staff, subj.ID, 3)
	}()
	select {
	case err := <-edited:
		t.Fatalf("edit finished while the lock was in flight: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(l.release)
	require.NoError(t, <-locked)
	for i := 0; i < 2; i++ {
		assert.True(t, fault.Is(<-edited, fault.KindAlreadyLocked))
	}

	v, err := svc.VerifyContent(ctx, subj.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, Verified, v.Verdict)
	items, err := f.store.ListItems(subj.ID)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, exam.ChoiceB, items[1].Correct)
}
