package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// EventRow is a stored run event.
type EventRow struct {
	ID int64 `json:"id"`
	convergence.Event
}

// LogEvent appends ev to the event log and returns its sequence number.
func (s *Store) LogEvent(ev convergence.Event) (int64, error) {
	var tally sql.NullString
	if ev.Tally != nil {
		b, err := json.Marshal(ev.Tally)
		if err != nil {
			return 0, fmt.Errorf("marshal tally: %w", err)
		}
		tally = sql.NullString{String: string(b), Valid: true}
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO event_log (run_id, parent_id, event_type, round, status, reason, tally_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.ParentID, string(ev.Type), ev.Round, string(ev.Status), ev.Reason, tally, at.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("log event: %w", err)
	}
	return res.LastInsertId()
}

// Events returns events after sequence number since, oldest first. An
// empty runID returns events of every run; limit <= 0 means no limit.
func (s *Store) Events(runID string, since int64, limit int) ([]EventRow, error) {
	query := `SELECT id, run_id, parent_id, event_type, round, status, reason, tally_json, created_at
		FROM event_log WHERE id > ?`
	args := []any{since}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			ev                     EventRow
			parent, status, reason sql.NullString
			tally                  sql.NullString
			typ                    string
			created                int64
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &parent, &typ, &ev.Round, &status, &reason, &tally, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ParentID = parent.String
		ev.Type = convergence.EventType(typ)
		ev.Status = convergence.Status(status.String)
		ev.Reason = reason.String
		ev.At = time.UnixMilli(created).UTC()
		if tally.Valid {
			var t response.Tally
			if err := json.Unmarshal([]byte(tally.String), &t); err != nil {
				return nil, fmt.Errorf("decode tally: %w", err)
			}
			ev.Tally = &t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneEvents deletes events older than maxAge and returns how many were
// removed.
func (s *Store) PruneEvents(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().UnixMilli()
	res, err := s.db.Exec(`DELETE FROM event_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Recorder is a convergence.Observer that writes every event to the log.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder returns an observer backed by s.
func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger}
}

// Observe implements convergence.Observer. Write failures are logged and
// never stop the run.
func (r *Recorder) Observe(ev convergence.Event) {
	if r == nil || r.store == nil {
		return
	}
	if _, err := r.store.LogEvent(ev); err != nil {
		r.logger.Warn("failed to record run event",
			"run_id", ev.RunID,
			"type", ev.Type,
			"error", err,
		)
	}
}
