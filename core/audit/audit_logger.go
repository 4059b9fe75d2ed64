package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one protocol or authorization event.
type AuditEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"eventType"` // e.g. "ContentLock", "OutcomeVerify"
	Actor     string            `json:"actor"`     // principal as ROLE:id
	SubjectID int64             `json:"subjectId,omitempty"`
	Result    string            `json:"result"` // "success", "failure", "VERIFIED", "TAMPERED"
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLogger is the interface for logging audit events.
type AuditLogger interface {
	LogEvent(event AuditEvent)
}

func stamp(event AuditEvent) AuditEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}

// SlogAuditLogger writes events through a structured logger.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// NewSlogAuditLogger returns an AuditLogger on top of l (slog.Default when nil).
func NewSlogAuditLogger(l *slog.Logger) AuditLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogAuditLogger{Logger: l.With("component", "audit")}
}

func (l *SlogAuditLogger) LogEvent(event AuditEvent) {
	event = stamp(event)
	attrs := []slog.Attr{
		slog.String("id", event.ID),
		slog.String("event", event.EventType),
		slog.String("actor", event.Actor),
		slog.String("result", event.Result),
	}
	if event.SubjectID != 0 {
		attrs = append(attrs, slog.Int64("subject", event.SubjectID))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	l.Logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// FileAuditLogger appends events as JSON lines to a file.
type FileAuditLogger struct {
	mu   sync.Mutex
	path string
}

// NewFileAuditLogger checks that path can be opened for appending.
func NewFileAuditLogger(path string) (*FileAuditLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	f.Close()
	return &FileAuditLogger{path: path}, nil
}

func (l *FileAuditLogger) LogEvent(event AuditEvent) {
	if err := l.Append(event); err != nil {
		slog.Error("audit append failed", "path", l.path, "err", err)
	}
}

// Append writes one event line.
func (l *FileAuditLogger) Append(event AuditEvent) error {
	b, err := json.Marshal(stamp(event))
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// Path is the log file location.
func (l *FileAuditLogger) Path() string { return l.path }

type multi []AuditLogger

func (m multi) LogEvent(event AuditEvent) {
	event = stamp(event)
	for _, l := range m {
		l.LogEvent(event)
	}
}

// Multi fans events out to every non-nil logger.
func Multi(loggers ...AuditLogger) AuditLogger {
	var m multi
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

// Nop discards events.
type Nop struct{}

func (Nop) LogEvent(AuditEvent) {}

// Recorder keeps events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *Recorder) LogEvent(event AuditEvent) {
	r.mu.Lock()
	r.events = append(r.events, stamp(event))
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEvent(nil), r.events...)
}
