package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"examseal/types/ids"
)

// Client talks to a ledger gateway over HTTP.
//
// Failures are classified by how far the request got: a request that was
// never written is ErrUnavailable, one that was written but produced no
// usable answer is ErrIndeterminate, and a 4xx answer is ErrRejected.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
}

// NewClient returns a gateway client. timeout bounds each call; zero means
// the caller's context alone bounds it.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		timeout: timeout,
	}
}

type contentRequest struct {
	SubjectID   int64  `json:"subjectId" validate:"gt=0"`
	Fingerprint ids.ID `json:"fingerprint" validate:"required"`
	WindowStart int64  `json:"windowStart"`
	WindowEnd   int64  `json:"windowEnd" validate:"gtefield=WindowStart"`
}

type outcomeRequest struct {
	SubjectID            int64  `json:"subjectId" validate:"gt=0"`
	PrincipalFingerprint ids.ID `json:"principalFingerprint" validate:"required"`
	OutcomeFingerprint   ids.ID `json:"outcomeFingerprint" validate:"required"`
}

type txResponse struct {
	TxRef TxRef `json:"txRef"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterContent implements Ledger.
func (c *Client) RegisterContent(ctx context.Context, subjectID int64, fingerprint ids.ID, windowStart, windowEnd int64) (TxRef, error) {
	var out txResponse
	err := c.do(ctx, http.MethodPost, "/v1/content", contentRequest{
		SubjectID:   subjectID,
		Fingerprint: fingerprint,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: empty transaction reference", ErrIndeterminate)
	}
	return out.TxRef, nil
}

// CommitOutcome implements Ledger.
func (c *Client) CommitOutcome(ctx context.Context, subjectID int64, principalFingerprint, outcomeFingerprint ids.ID) (TxRef, error) {
	var out txResponse
	err := c.do(ctx, http.MethodPost, "/v1/outcomes", outcomeRequest{
		SubjectID:            subjectID,
		PrincipalFingerprint: principalFingerprint,
		OutcomeFingerprint:   outcomeFingerprint,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: empty transaction reference", ErrIndeterminate)
	}
	return out.TxRef, nil
}

// Lookup implements Reader. Lookups are reads, so every transport failure is
// ErrUnavailable.
func (c *Client) Lookup(ctx context.Context, ref TxRef) (Entry, error) {
	var e Entry
	err := c.do(ctx, http.MethodGet, "/v1/entries/"+url.PathEscape(string(ref)), nil, &e)
	if errors.Is(err, ErrIndeterminate) {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e, err
}

// Health checks the gateway.
func (c *Client) Health(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
	if errors.Is(err, ErrIndeterminate) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { wrote.Store(true) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if wrote.Load() {
			return fmt.Errorf("%w: %v", ErrIndeterminate, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrIndeterminate, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRejected, errorText(raw, resp.Status))
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, errorText(raw, resp.Status))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrIndeterminate, errorText(raw, resp.Status))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: undecodable response: %v", ErrIndeterminate, err)
	}
	return nil
}

func errorText(raw []byte, status string) string {
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return status
}
