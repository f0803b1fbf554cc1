package record

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Dicklesworthstone/accord/internal/convergence"
)

const recordDirName = "runs"

// Summary is the listing entry for a stored run.
type Summary struct {
	ID         string             `json:"id" yaml:"id"`
	Outcome    string             `json:"outcome" yaml:"outcome"`
	Status     convergence.Status `json:"status" yaml:"status"`
	Reason     string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rounds     int                `json:"rounds" yaml:"rounds"`
	Forks      int                `json:"forks,omitempty" yaml:"forks,omitempty"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Summarize builds the listing entry for rec.
func Summarize(rec Record) Summary {
	st := rec.Run
	if st == nil {
		return Summary{}
	}
	s := Summary{
		ID:         st.ID,
		Outcome:    st.Outcome,
		Status:     st.Status,
		Rounds:     len(st.History),
		Forks:      len(st.Forks),
		StartedAt:  st.StartedAt,
		FinishedAt: st.FinishedAt,
	}
	if st.Result != nil {
		s.Reason = st.Result.Reason
	}
	return s
}

// FileStore keeps one JSON record file per run.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a store under baseDir. An empty baseDir uses
// ./.accord.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		baseDir = filepath.Join(cwd, ".accord")
	}
	dir := filepath.Join(baseDir, recordDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	return &FileStore{dir: dir, logger: slog.Default()}, nil
}

// WithLogger sets the logger for the store.
func (s *FileStore) WithLogger(logger *slog.Logger) *FileStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Dir returns the directory records are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

func validID(id string) error {
	if id == "" {
		return errors.New("run ID is required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid run ID %q", id)
	}
	return nil
}

// Save writes rec, replacing any earlier record of the same run.
func (s *FileStore) Save(rec Record) error {
	if s == nil {
		return errors.New("record store is nil")
	}
	if err := validID(rec.ID()); err != nil {
		return err
	}
	if rec.Schema == "" {
		rec.Schema = Schema
	}

	var buf bytes.Buffer
	if err := Encode(&buf, rec, FormatJSON); err != nil {
		return err
	}
	filename := filepath.Join(s.dir, rec.ID()+".json")
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit record: %w", err)
	}

	s.logger.Info("run record saved",
		"run_id", rec.ID(),
		"status", rec.Run.Status,
		"rounds", len(rec.Run.History),
	)
	return nil
}

// Load reads one run's record. A missing record returns os.ErrNotExist.
func (s *FileStore) Load(id string) (Record, error) {
	if s == nil {
		return Record{}, errors.New("record store is nil")
	}
	if err := validID(id); err != nil {
		return Record{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, os.ErrNotExist
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	defer f.Close()
	return Decode(f, FormatJSON)
}

// List returns a summary of every stored run, newest first. Unreadable
// files are skipped with a warning.
func (s *FileStore) List() ([]Summary, error) {
	if s == nil {
		return nil, errors.New("record store is nil")
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read record directory: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		rec, err := s.Load(id)
		if err != nil {
			s.logger.Warn("failed to load run record", "run_id", id, "error", err)
			continue
		}
		out = append(out, Summarize(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Delete removes a run's record. A missing record returns os.ErrNotExist.
func (s *FileStore) Delete(id string) error {
	if s == nil {
		return errors.New("record store is nil")
	}
	if err := validID(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return fmt.Errorf("remove record: %w", err)
	}
	s.logger.Info("run record deleted", "run_id", id)
	return nil
}

// CleanOld removes records of runs that finished before maxAge ago.
func (s *FileStore) CleanOld(maxAge time.Duration) (int, error) {
	runs, err := s.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, run := range runs {
		ts := run.FinishedAt
		if ts.IsZero() {
			ts = run.StartedAt
		}
		if !ts.Before(cutoff) {
			continue
		}
		if err := s.Delete(run.ID); err != nil {
			s.logger.Warn("failed to delete old run record", "run_id", run.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
