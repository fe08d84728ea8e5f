// Package audit records worker executions and stage transitions as an
// append-only per-session trail.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
)

// Sink receives audit records. Implementations must be safe for concurrent
// use.
type Sink interface {
	RecordExecution(ctx context.Context, e Execution) error
	RecordTransition(ctx context.Context, t Transition) error
}

// Execution records one worker invocation.
type Execution struct {
	SessionID string        `json:"session_id"`
	Component string        `json:"component"`
	Input     any           `json:"input,omitempty"`
	Output    any           `json:"output,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Transition records one stage change.
type Transition struct {
	SessionID string       `json:"session_id"`
	From      domain.Stage `json:"from"`
	To        domain.Stage `json:"to"`
	Reason    string       `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
}

// Kind distinguishes trail entries.
type Kind string

const (
	KindExecution  Kind = "execution"
	KindTransition Kind = "transition"
)

// Entry is one line of a session trail.
type Entry struct {
	Kind       Kind        `json:"kind"`
	Execution  *Execution  `json:"execution,omitempty"`
	Transition *Transition `json:"transition,omitempty"`
}

var safeSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileSink appends entries to <dir>/<session>.ndjson. Writes are
// synchronous so a record is on disk before the caller proceeds.
type FileSink struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// RecordExecution appends an execution entry.
func (s *FileSink) RecordExecution(ctx context.Context, e Execution) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return s.append(ctx, e.SessionID, Entry{Kind: KindExecution, Execution: &e})
}

// RecordTransition appends a transition entry.
func (s *FileSink) RecordTransition(ctx context.Context, t Transition) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	return s.append(ctx, t.SessionID, Entry{Kind: KindTransition, Transition: &t})
}

func (s *FileSink) append(ctx context.Context, sessionID string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit file: %w", err)
	}
	return nil
}

// Trail returns the entries recorded for sessionID in write order. A
// session with no trail yields an empty slice.
func (s *FileSink) Trail(sessionID string) ([]Entry, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries := []Entry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			s.logger.Warn("Skipping malformed audit line", "session_id", sessionID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return entries, nil
}

func (s *FileSink) path(sessionID string) (string, error) {
	if !safeSessionID.MatchString(sessionID) {
		return "", fmt.Errorf("%w: invalid session id %q", domain.ErrValidation, sessionID)
	}
	return filepath.Join(s.dir, sessionID+".ndjson"), nil
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordExecution(context.Context, Execution) error   { return nil }
func (NopSink) RecordTransition(context.Context, Transition) error { return nil }
