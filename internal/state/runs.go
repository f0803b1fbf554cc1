package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// RunRow is the summary row of a stored run.
type RunRow struct {
	ID             string             `json:"id"`
	ParentID       string             `json:"parent_id,omitempty"`
	Depth          int                `json:"depth"`
	Outcome        string             `json:"outcome"`
	Status         convergence.Status `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	Rounds         int                `json:"rounds"`
	AcceptanceRate float64            `json:"acceptance_rate"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at,omitempty"`
}

// RoundRow is one stored round.
type RoundRow struct {
	RunID       string            `json:"run_id"`
	Index       int               `json:"index"`
	Content     string            `json:"content"`
	Tally       response.Tally    `json:"tally"`
	Unverified  bool              `json:"unverified,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
	Round       convergence.Round `json:"round"`
}

// ConstraintAction is what happened to a tag.
type ConstraintAction string

const (
	ConstraintAdded       ConstraintAction = "added"
	ConstraintSuperseded  ConstraintAction = "superseded"
	ConstraintQuarantined ConstraintAction = "quarantined"
)

// ConstraintEvent is one row of a run's constraint history.
type ConstraintEvent struct {
	RunID  string           `json:"run_id"`
	TagID  string           `json:"tag_id,omitempty"`
	Owner  string           `json:"owner"`
	Text   string           `json:"text"`
	Action ConstraintAction `json:"action"`
	Round  int              `json:"round"`
	Detail string           `json:"detail,omitempty"`
}

// SaveRun stores st and all of its forks in one transaction. Saving a run
// again replaces its rounds and constraint history.
func (s *Store) SaveRun(st *convergence.RunState) error {
	if st == nil || st.ID == "" {
		return errors.New("run state with an ID is required")
	}
	return s.Transaction(func(tx *Tx) error {
		var err error
		st.Walk(func(run *convergence.RunState) {
			if err == nil {
				err = tx.saveRun(run)
			}
		})
		return err
	})
}

func (tx *Tx) saveRun(st *convergence.RunState) error {
	// Forks are stored as runs of their own.
	flat := *st
	flat.Forks = nil
	data, err := json.Marshal(&flat)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", st.ID, err)
	}

	var reason string
	var rate float64
	if st.Result != nil {
		reason = st.Result.Reason
		rate = st.Result.AcceptanceRate
	}
	var parent sql.NullString
	if st.ParentID != "" {
		parent = sql.NullString{String: st.ParentID, Valid: true}
	}

	_, err = tx.tx.Exec(`
		INSERT INTO runs (id, parent_id, depth, outcome, status, reason, rounds, acceptance_rate, started_at, finished_at, state_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			depth = excluded.depth,
			outcome = excluded.outcome,
			status = excluded.status,
			reason = excluded.reason,
			rounds = excluded.rounds,
			acceptance_rate = excluded.acceptance_rate,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			state_json = excluded.state_json`,
		st.ID, parent, st.Depth, st.Outcome, string(st.Status), reason, len(st.History), rate,
		st.StartedAt.UTC().UnixMilli(), millis(st.FinishedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", st.ID, err)
	}

	if _, err := tx.tx.Exec(`DELETE FROM rounds WHERE run_id = ?`, st.ID); err != nil {
		return fmt.Errorf("clear rounds: %w", err)
	}
	for _, round := range st.History {
		rj, err := json.Marshal(round)
		if err != nil {
			return fmt.Errorf("marshal round %d: %w", round.Index, err)
		}
		_, err = tx.tx.Exec(`
			INSERT INTO rounds (run_id, idx, content, accept, reservations, object, opt_out, unverified, completed_at, round_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, round.Index, round.Combined.Content,
			round.Tally.Accept, round.Tally.AcceptWithReservations, round.Tally.Object, round.Tally.OptOut,
			round.Unverified, round.CompletedAt.UTC().UnixMilli(), string(rj),
		)
		if err != nil {
			return fmt.Errorf("save round %d: %w", round.Index, err)
		}
	}

	if _, err := tx.tx.Exec(`DELETE FROM constraint_history WHERE run_id = ?`, st.ID); err != nil {
		return fmt.Errorf("clear constraint history: %w", err)
	}
	for _, ev := range constraintEvents(st) {
		_, err := tx.tx.Exec(`
			INSERT INTO constraint_history (run_id, tag_id, owner, text, action, round, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.RunID, ev.TagID, ev.Owner, ev.Text, string(ev.Action), ev.Round, ev.Detail,
		)
		if err != nil {
			return fmt.Errorf("save constraint history: %w", err)
		}
	}
	return nil
}

// constraintEvents flattens a run's ledger into history rows.
func constraintEvents(st *convergence.RunState) []ConstraintEvent {
	texts := make(map[string]ConstraintEvent, len(st.Ledger))
	var out []ConstraintEvent
	for _, t := range st.Ledger {
		ev := ConstraintEvent{
			RunID:  st.ID,
			TagID:  t.ID,
			Owner:  string(t.Owner),
			Text:   t.Text,
			Action: ConstraintAdded,
			Round:  t.Round,
			Detail: t.Priority(),
		}
		texts[t.ID] = ev
		out = append(out, ev)
	}
	for _, sup := range st.Supersessions {
		base := texts[sup.TagID]
		detail := "retired"
		if sup.By != "" {
			detail = "replaced by " + sup.By
		}
		out = append(out, ConstraintEvent{
			RunID:  st.ID,
			TagID:  sup.TagID,
			Owner:  base.Owner,
			Text:   base.Text,
			Action: ConstraintSuperseded,
			Round:  sup.Round,
			Detail: detail,
		})
	}
	for _, q := range st.Quarantined {
		out = append(out, ConstraintEvent{
			RunID:  st.ID,
			TagID:  q.Raw.ID,
			Owner:  string(q.Owner),
			Text:   q.Raw.Text,
			Action: ConstraintQuarantined,
			Detail: q.Reason,
		})
	}
	return out
}

const runColumns = `id, parent_id, depth, outcome, status, reason, rounds, acceptance_rate, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRow, error) {
	var (
		r        RunRow
		parent   sql.NullString
		reason   sql.NullString
		status   string
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&r.ID, &parent, &r.Depth, &r.Outcome, &status, &reason, &r.Rounds, &r.AcceptanceRate, &started, &finished); err != nil {
		return r, err
	}
	r.ParentID = parent.String
	r.Reason = reason.String
	r.Status = convergence.Status(status)
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = fromMillis(finished)
	return r, nil
}

// GetRun returns a run's summary row.
func (s *Store) GetRun(id string) (RunRow, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// LoadRunState returns a run's full state with its forks reattached.
func (s *Store) LoadRunState(id string) (*convergence.RunState, error) {
	var data string
	err := s.db.QueryRow(`SELECT state_json FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	var st convergence.RunState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}

	children, err := s.ListForks(id)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		fork, err := s.LoadRunState(child.ID)
		if err != nil {
			return nil, err
		}
		st.Forks = append(st.Forks, fork)
	}
	return &st, nil
}

// ListRuns returns top-level runs, newest first. A non-empty status
// filters by terminal status.
func (s *Store) ListRuns(status string) ([]RunRow, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE parent_id IS NULL`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC, id`
	return s.queryRuns(query, args...)
}

// ListForks returns the direct sub-runs of a run in creation order.
func (s *Store) ListForks(parentID string) ([]RunRow, error) {
	return s.queryRuns(`SELECT `+runColumns+` FROM runs WHERE parent_id = ? ORDER BY started_at, id`, parentID)
}

func (s *Store) queryRuns(query string, args ...any) ([]RunRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run, its forks, and their rounds and history.
func (s *Store) DeleteRun(id string) error {
	children, err := s.ListForks(id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.DeleteRun(c.ID); err != nil {
			return err
		}
	}
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRounds returns every stored round of a run in order.
func (s *Store) GetRounds(runID string) ([]RoundRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, idx, content, accept, reservations, object, opt_out, unverified, completed_at, round_json
		FROM rounds WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("get rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRound returns one round of a run.
func (s *Store) GetRound(runID string, index int) (RoundRow, error) {
	r, err := scanRound(s.db.QueryRow(`
		SELECT run_id, idx, content, accept, reservations, object, opt_out, unverified, completed_at, round_json
		FROM rounds WHERE run_id = ? AND idx = ?`, runID, index))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run %s round %d: %w", runID, index, ErrNotFound)
	}
	return r, err
}

func scanRound(row scanner) (RoundRow, error) {
	var (
		r         RoundRow
		completed int64
		data      string
	)
	if err := row.Scan(&r.RunID, &r.Index, &r.Content, &r.Tally.Accept, &r.Tally.AcceptWithReservations, &r.Tally.Object, &r.Tally.OptOut,
		&r.Unverified, &completed, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan round: %w", err)
	}
	r.CompletedAt = time.UnixMilli(completed).UTC()
	if err := json.Unmarshal([]byte(data), &r.Round); err != nil {
		return r, fmt.Errorf("decode round %d: %w", r.Index, err)
	}
	return r, nil
}

// ConstraintHistory returns a run's constraint history in insertion order.
func (s *Store) ConstraintHistory(runID string) ([]ConstraintEvent, error) {
	rows, err := s.db.Query(`
		SELECT run_id, tag_id, owner, text, action, round, detail
		FROM constraint_history WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("constraint history: %w", err)
	}
	defer rows.Close()

	var out []ConstraintEvent
	for rows.Next() {
		var (
			ev     ConstraintEvent
			tagID  sql.NullString
			detail sql.NullString
			action string
		)
		if err := rows.Scan(&ev.RunID, &tagID, &ev.Owner, &ev.Text, &action, &ev.Round, &detail); err != nil {
			return nil, fmt.Errorf("scan constraint history: %w", err)
		}
		ev.TagID = tagID.String
		ev.Detail = detail.String
		ev.Action = ConstraintAction(action)
		out = append(out, ev)
	}
	return out, rows.Err()
}
