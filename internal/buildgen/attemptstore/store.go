// Package attemptstore keeps a local SQLite log of every generation attempt for post-mortems.
package attemptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/floegence/appforge/internal/buildgen"
)

const maxErrorRunes = 2000

// Store is safe for concurrent use; writes are serialized on a single connection.
type Store struct {
	db *sql.DB
}

var _ buildgen.AttemptRecorder = (*Store)(nil)

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Attempt is one stored row.
type Attempt struct {
	AttemptID   string  `json:"attempt_id"`
	BuildID     string  `json:"build_id"`
	Unit        int     `json:"unit"`
	PhaseNumber float64 `json:"phase_number,omitempty"`
	PhaseName   string  `json:"phase_name,omitempty"`
	Attempt     int     `json:"attempt"`
	Model       string  `json:"model,omitempty"`

	MaxTokens      int `json:"max_tokens"`
	ThinkingBudget int `json:"thinking_budget"`
	TimeoutMs      int `json:"timeout_ms"`

	Category     string `json:"category,omitempty"`
	Error        string `json:"error,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	FilesKept    int    `json:"files_kept"`

	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	CacheReadTokens int64 `json:"cache_read_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`

	TruncationJSON string `json:"truncation_json,omitempty"`
	HostLoadJSON   string `json:"host_load_json,omitempty"`
	Excerpt        string `json:"excerpt,omitempty"`

	StartedAtUnixMs  int64 `json:"started_at_unix_ms"`
	FinishedAtUnixMs int64 `json:"finished_at_unix_ms"`
}

// Succeeded reports whether the attempt produced a usable result.
func (a Attempt) Succeeded() bool { return a.Category == "" }

type BuildSummary struct {
	BuildID          string `json:"build_id"`
	Attempts         int    `json:"attempts"`
	Failures         int    `json:"failures"`
	LastCategory     string `json:"last_category,omitempty"`
	StartedAtUnixMs  int64  `json:"started_at_unix_ms"`
	FinishedAtUnixMs int64  `json:"finished_at_unix_ms"`
}

func (s *Store) RecordAttempt(ctx context.Context, rec buildgen.AttemptRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	id := strings.TrimSpace(rec.ID)
	buildID := strings.TrimSpace(rec.BuildID)
	if id == "" || buildID == "" {
		return errors.New("missing attempt_id or build_id")
	}

	var phaseNumber float64
	var phaseName string
	if rec.Phase != nil {
		phaseNumber, phaseName = rec.Phase.Number, rec.Phase.Name
	}
	truncationJSON, err := marshalOptional(rec.Truncation)
	if err != nil {
		return fmt.Errorf("encode truncation: %w", err)
	}
	hostLoadJSON, err := marshalOptional(rec.HostLoad)
	if err != nil {
		return fmt.Errorf("encode host load: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO build_attempts(
  attempt_id, build_id, unit, phase_number, phase_name, attempt, model,
  max_tokens, thinking_budget, timeout_ms,
  category, error, finish_reason, files_kept,
  input_tokens, output_tokens, cache_read_tokens, reasoning_tokens,
  truncation_json, host_load_json, excerpt,
  started_at_unix_ms, finished_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		id, buildID, rec.Unit, phaseNumber, phaseName, rec.Attempt, rec.Model,
		rec.Budget.MaxTokens, rec.Budget.ThinkingBudget, rec.Budget.TimeoutMs,
		rec.Category, truncateRunes(rec.Error, maxErrorRunes), rec.FinishReason, rec.FilesKept,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CacheReadTokens, rec.Usage.ReasoningTokens,
		truncationJSON, hostLoadJSON, truncateRunes(rec.Excerpt, buildgen.MaxExcerptRunes),
		unixMs(rec.StartedAt), unixMs(rec.FinishedAt),
	)
	return err
}

// ListAttempts returns a build's attempts in execution order.
func (s *Store) ListAttempts(ctx context.Context, buildID string) ([]Attempt, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return nil, errors.New("missing build_id")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT attempt_id, build_id, unit, phase_number, phase_name, attempt, model,
       max_tokens, thinking_budget, timeout_ms,
       category, error, finish_reason, files_kept,
       input_tokens, output_tokens, cache_read_tokens, reasoning_tokens,
       truncation_json, host_load_json, excerpt,
       started_at_unix_ms, finished_at_unix_ms
FROM build_attempts
WHERE build_id = ?
ORDER BY unit ASC, attempt ASC, started_at_unix_ms ASC
`, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Attempt, 0, 8)
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(
			&a.AttemptID, &a.BuildID, &a.Unit, &a.PhaseNumber, &a.PhaseName, &a.Attempt, &a.Model,
			&a.MaxTokens, &a.ThinkingBudget, &a.TimeoutMs,
			&a.Category, &a.Error, &a.FinishReason, &a.FilesKept,
			&a.InputTokens, &a.OutputTokens, &a.CacheReadTokens, &a.ReasoningTokens,
			&a.TruncationJSON, &a.HostLoadJSON, &a.Excerpt,
			&a.StartedAtUnixMs, &a.FinishedAtUnixMs,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListBuilds summarizes the most recent builds, newest first.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]BuildSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT b.build_id,
       COUNT(1),
       SUM(CASE WHEN b.category != '' THEN 1 ELSE 0 END),
       MIN(b.started_at_unix_ms),
       MAX(b.finished_at_unix_ms),
       COALESCE((
         SELECT l.category FROM build_attempts l
         WHERE l.build_id = b.build_id
         ORDER BY l.finished_at_unix_ms DESC, l.unit DESC, l.attempt DESC
         LIMIT 1
       ), '')
FROM build_attempts b
GROUP BY b.build_id
ORDER BY MAX(b.finished_at_unix_ms) DESC, b.build_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BuildSummary
	for rows.Next() {
		var b BuildSummary
		if err := rows.Scan(&b.BuildID, &b.Attempts, &b.Failures, &b.StartedAtUnixMs, &b.FinishedAtUnixMs, &b.LastCategory); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func marshalOptional[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
