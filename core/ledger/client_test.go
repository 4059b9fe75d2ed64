package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examseal/types/ids"
)

func newGateway(t *testing.T, token string) (*Local, *httptest.Server) {
	t.Helper()
	l := newLocal(t)
	srv := httptest.NewServer(Handler(l, token, nil))
	t.Cleanup(srv.Close)
	return l, srv
}

func TestClientAgainstGateway(t *testing.T) {
	l, srv := newGateway(t, "s3cret")
	c := NewClient(srv.URL, "s3cret", 5*time.Second)
	ctx := context.Background()

	ref, err := c.RegisterContent(ctx, 1, ids.IDFromString("content"), 10, 70)
	require.NoError(t, err)

	local, err := l.Lookup(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ids.IDFromString("content"), local.Fingerprint)

	remote, err := c.Lookup(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, local, remote)

	_, err = c.RegisterContent(ctx, 1, ids.IDFromString("again"), 10, 70)
	assert.ErrorIs(t, err, ErrRejected)

	oref, err := c.CommitOutcome(ctx, 1, ids.IDFromString("3"), ids.IDFromString("outcome"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, oref)

	_, err = c.Lookup(ctx, TxRef("0x"+ids.IDFromString("missing").String()))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, c.Health(ctx))
}

func TestClientWrongTokenIsRejected(t *testing.T) {
	_, srv := newGateway(t, "s3cret")
	c := NewClient(srv.URL, "wrong", time.Second)
	_, err := c.RegisterContent(context.Background(), 1, ids.IDFromString("c"), 0, 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClientGatewayValidatesBodies(t *testing.T) {
	_, srv := newGateway(t, "")
	c := NewClient(srv.URL, "", time.Second)
	_, err := c.RegisterContent(context.Background(), 0, ids.IDFromString("c"), 0, 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClientConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second)
	_, err := c.RegisterContent(context.Background(), 1, ids.IDFromString("c"), 0, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientClassifiesServerErrors(t *testing.T) {
	cases := map[int]error{
		http.StatusServiceUnavailable:  ErrUnavailable,
		http.StatusBadGateway:          ErrUnavailable,
		http.StatusInternalServerError: ErrIndeterminate,
		http.StatusGatewayTimeout:      ErrIndeterminate,
		http.StatusConflict:            ErrRejected,
	}
	for status, want := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()
			_, err := NewClient(srv.URL, "", time.Second).CommitOutcome(context.Background(), 1, ids.IDFromString("p"), ids.IDFromString("o"))
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestClientTimeoutAfterSendIsIndeterminate(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "", 50*time.Millisecond)
	_, err := c.RegisterContent(context.Background(), 1, ids.IDFromString("c"), 0, 1)
	assert.ErrorIs(t, err, ErrIndeterminate)
}

func TestClientGarbledSuccessIsIndeterminate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).RegisterContent(context.Background(), 1, ids.IDFromString("c"), 0, 1)
	assert.ErrorIs(t, err, ErrIndeterminate)
}
