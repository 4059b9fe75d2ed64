package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAuditLoggerAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewFileAuditLogger(path)
	require.NoError(t, err)

	l.LogEvent(AuditEvent{EventType: "ContentLock", Actor: "STAFF:2", SubjectID: 1, Result: "success"})
	l.LogEvent(AuditEvent{EventType: "ContentVerify", Actor: "ADMIN:1", SubjectID: 1, Result: "VERIFIED"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var ev AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "ContentVerify", ev.EventType)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestSlogAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	l.LogEvent(AuditEvent{EventType: "OutcomeCommit", Actor: "STUDENT:3", SubjectID: 9, Result: "failure", Reason: "ledger unavailable"})

	out := buf.String()
	assert.Contains(t, out, `"event":"OutcomeCommit"`)
	assert.Contains(t, out, `"subject":9`)
	assert.Contains(t, out, `"reason":"ledger unavailable"`)
}

func TestMultiSharesEventID(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi(a, nil, b).LogEvent(AuditEvent{EventType: "x"})

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, a.Events()[0].ID, b.Events()[0].ID)
}

func TestLogDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

	got, n, err := LogDigest(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ha, hb, hc := sha256.Sum256([]byte("a")), sha256.Sum256([]byte("b")), sha256.Sum256([]byte("c"))
	ab := sha256.Sum256(append(ha[:], hb[:]...))
	root := sha256.Sum256(append(ab[:], hc[:]...))
	assert.Equal(t, fmt.Sprintf("%x", root), got)

	require.NoError(t, os.WriteFile(path, []byte("a\nB\nc\n"), 0o644))
	edited, _, err := LogDigest(path)
	require.NoError(t, err)
	assert.NotEqual(t, got, edited)
}

func TestLogDigestEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	got, n, err := LogDigest(path)
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Zero(t, n)
}
