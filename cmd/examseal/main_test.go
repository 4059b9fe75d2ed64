package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examseal/core/exam"
)

func TestParseAnswers(t *testing.T) {
	got, err := parseAnswers([]string{"1=a", "2=", "3=D"})
	require.NoError(t, err)
	assert.Equal(t, []exam.Answer{
		{ItemID: 1, Selected: exam.ChoiceA},
		{ItemID: 2},
		{ItemID: 3, Selected: exam.ChoiceD},
	}, got)

	_, err = parseAnswers([]string{"1"})
	assert.Error(t, err)
	_, err = parseAnswers([]string{"x=A"})
	assert.Error(t, err)
	_, err = parseAnswers([]string{"1=E"})
	assert.Error(t, err)
}

func TestHashOutcomeCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"hash", "outcome", "--exam", "7", "--principal", "1", "--score", "3", "--completed-at", "2025-06-01T10:15:00Z"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "principal  0x6b86b273ff34fce19d6b804eff5a3f5747ada4eaa22f1d49c01e52ddb7875b4b")
	assert.Contains(t, out.String(), "outcome    0x")
}

func TestHashContentCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`exams:
  - id: 4
    name: Logic
    startsAt: 2025-06-01T09:00:00Z
    durationMinutes: 30
    questions:
      - id: 1
        question: "p or not p?"
        options: {A: "true", B: "false", C: "unknown", D: "both"}
        correct: A
`), 0o600))
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"hash", "content", "-f", path})
	require.NoError(t, rootCmd.Execute())
	fields := strings.Split(strings.TrimSpace(out.String()), "\t")
	require.Len(t, fields, 3)
	assert.Equal(t, "4", fields[0])
	assert.Len(t, fields[2], 66)
}

func TestAuditDigestCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n{\"b\":2}\n"), 0o600))
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"audit", "digest", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "2 events")
}
