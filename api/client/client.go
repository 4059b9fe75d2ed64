// Package client is a thin HTTP client for the exam API, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/fault"
	"examseal/core/integrity"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(raw, &e) == nil && e.Error.Kind != "" {
			return fault.New(fault.Kind(e.Error.Kind), e.Error.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func examPath(subjectID int64, rest string) string {
	return "/api/exams/" + strconv.FormatInt(subjectID, 10) + "/" + rest
}

// LoginToken asks a development server for a token.
func (c *Client) LoginToken(ctx context.Context, p auth.Principal) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/login-token", map[string]any{"principalId": p.ID, "role": p.Role}, &out)
	return out.Token, err
}

func (c *Client) ListExams(ctx context.Context) ([]exam.Listing, error) {
	var out []exam.Listing
	err := c.do(ctx, http.MethodGet, "/api/exams/", nil, &out)
	return out, err
}

func (c *Client) CreateExam(ctx context.Context, in exam.SubjectInput) (exam.Subject, error) {
	var out exam.Subject
	err := c.do(ctx, http.MethodPost, "/api/exams/", in, &out)
	return out, err
}

// PutQuestion creates or replaces it. A zero it.ID lets the server allocate one.
func (c *Client) PutQuestion(ctx context.Context, it exam.Item) (exam.Item, error) {
	body := map[string]any{"question": it.Question, "options": it.Options, "correct": it.Correct}
	var out exam.Item
	if it.ID == 0 {
		err := c.do(ctx, http.MethodPost, examPath(it.SubjectID, "questions/"), body, &out)
		return out, err
	}
	err := c.do(ctx, http.MethodPut, examPath(it.SubjectID, "questions/"+strconv.FormatInt(it.ID, 10)), body, &out)
	return out, err
}

func (c *Client) DeleteQuestion(ctx context.Context, subjectID, itemID int64) error {
	return c.do(ctx, http.MethodDelete, examPath(subjectID, "questions/"+strconv.FormatInt(itemID, 10)), nil, nil)
}

func (c *Client) Lock(ctx context.Context, subjectID int64) (integrity.LockReceipt, error) {
	var out integrity.LockReceipt
	err := c.do(ctx, http.MethodPost, examPath(subjectID, "lock/"), nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, subjectID int64) (exam.Attempt, error) {
	var out exam.Attempt
	err := c.do(ctx, http.MethodPost, examPath(subjectID, "start/"), nil, &out)
	return out, err
}

func (c *Client) Questions(ctx context.Context, subjectID int64) (exam.Paper, error) {
	var out exam.Paper
	err := c.do(ctx, http.MethodGet, examPath(subjectID, "questions/"), nil, &out)
	return out, err
}

func (c *Client) Submit(ctx context.Context, subjectID int64, answers []exam.Answer) (integrity.OutcomeReceipt, error) {
	if answers == nil {
		answers = []exam.Answer{}
	}
	var out integrity.OutcomeReceipt
	err := c.do(ctx, http.MethodPost, examPath(subjectID, "submit/"), map[string]any{"answers": answers}, &out)
	return out, err
}

func (c *Client) VerifyContent(ctx context.Context, subjectID int64) (integrity.ContentVerdict, error) {
	var out integrity.ContentVerdict
	err := c.do(ctx, http.MethodGet, examPath(subjectID, "verify/"), nil, &out)
	return out, err
}

func (c *Client) VerifyOutcome(ctx context.Context, subjectID, principalID int64) (integrity.OutcomeVerdict, error) {
	var out integrity.OutcomeVerdict
	err := c.do(ctx, http.MethodGet, examPath(subjectID, "results/"+strconv.FormatInt(principalID, 10)+"/verify/"), nil, &out)
	return out, err
}

func (c *Client) VerifyAnchors(ctx context.Context, subjectID int64) ([]integrity.AnchorCheck, error) {
	var out []integrity.AnchorCheck
	err := c.do(ctx, http.MethodGet, examPath(subjectID, "anchors/"), nil, &out)
	return out, err
}

func (c *Client) MyResult(ctx context.Context, subjectID int64) (exam.Result, error) {
	var out exam.Result
	err := c.do(ctx, http.MethodGet, examPath(subjectID, "my-result/"), nil, &out)
	return out, err
}

func (c *Client) Pending(ctx context.Context, subjectID int64) ([]exam.Pending, error) {
	var out []exam.Pending
	err := c.do(ctx, http.MethodGet, examPath(subjectID, "pending"), nil, &out)
	return out, err
}

func (c *Client) Reconcile(ctx context.Context, subjectID int64, req integrity.ReconcileRequest) (exam.Pending, error) {
	var out exam.Pending
	err := c.do(ctx, http.MethodPost, examPath(subjectID, "reconcile"), req, &out)
	return out, err
}

// Status fetches /status as raw JSON.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}
