// Package scenario reads negotiation scenarios from YAML: the desired
// outcome, participants and their raw constraints, optional engine
// overrides, and optional scripted proposals and refinements for
// reproducible runs.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/oracle"
)

// ErrInvalid wraps every scenario validation failure.
var ErrInvalid = errors.New("invalid scenario")

// Participant is one party and the constraints they stated.
type Participant struct {
	ID          string              `json:"id" yaml:"id"`
	Constraints []constraint.RawTag `json:"constraints" yaml:"constraints"`
}

// ScriptedRound is the generator output for one round.
type ScriptedRound struct {
	Round int `json:"round" yaml:"round"`

	oracle.Generation `yaml:",inline"`
}

// Engine overrides individual engine settings. Unset fields keep the
// configured value.
type Engine struct {
	MaxRounds            *int           `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty"`
	AcceptanceThreshold  *float64       `json:"acceptance_threshold,omitempty" yaml:"acceptance_threshold,omitempty"`
	MaxOptOuts           *int           `json:"max_opt_outs,omitempty" yaml:"max_opt_outs,omitempty"`
	AllowForking         *bool          `json:"allow_forking,omitempty" yaml:"allow_forking,omitempty"`
	FlexibilityThreshold *float64       `json:"flexibility_threshold,omitempty" yaml:"flexibility_threshold,omitempty"`
	Patience             *int           `json:"patience,omitempty" yaml:"patience,omitempty"`
	ForkAfterRounds      *int           `json:"fork_after_rounds,omitempty" yaml:"fork_after_rounds,omitempty"`
	RunTimeout           *time.Duration `json:"run_timeout,omitempty" yaml:"run_timeout,omitempty"`
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name         string         `json:"name,omitempty" yaml:"name,omitempty"`
	Outcome      string         `json:"outcome" yaml:"outcome"`
	Participants []Participant  `json:"participants" yaml:"participants"`
	Commitments  []string       `json:"commitments,omitempty" yaml:"commitments,omitempty"`
	Engine       Engine         `json:"engine,omitempty" yaml:"engine,omitempty"`
	Lexicon      lexicon.Config `json:"lexicon,omitempty" yaml:"lexicon,omitempty"`
	// Proposals scripts the generator round by round. Empty uses the
	// configured generator.
	Proposals []ScriptedRound `json:"proposals,omitempty" yaml:"proposals,omitempty"`
	// Refinements maps participant to round to the full constraint list
	// they answer with when they object in that round.
	Refinements map[string]map[int][]constraint.RawTag `json:"refinements,omitempty" yaml:"refinements,omitempty"`

	// Path is the file the scenario was loaded from.
	Path string `json:"-" yaml:"-"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// Parse decodes and validates scenario YAML. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structure of the scenario. Individual constraints
// are not checked here; bad ones are quarantined when the input is built.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Outcome) == "" {
		return fmt.Errorf("%w: outcome is required", ErrInvalid)
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("%w: at least one participant is required", ErrInvalid)
	}
	seen := make(map[string]bool)
	for i, p := range s.Participants {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: participant %d has no id", ErrInvalid, i+1)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalid, p.ID)
		}
		seen[p.ID] = true
	}
	for who := range s.Refinements {
		if !seen[who] {
			return fmt.Errorf("%w: refinement for unknown participant %q", ErrInvalid, who)
		}
	}
	rounds := make(map[int]bool)
	for _, r := range s.Proposals {
		if r.Round < 1 {
			return fmt.Errorf("%w: scripted round must be >= 1, got %d", ErrInvalid, r.Round)
		}
		if rounds[r.Round] {
			return fmt.Errorf("%w: round %d scripted twice", ErrInvalid, r.Round)
		}
		rounds[r.Round] = true
	}
	return nil
}

// Input builds the engine input. Constraints that fail validation are
// quarantined and carried on the input.
func (s *Scenario) Input(logger *slog.Logger) convergence.Input {
	in := convergence.Input{
		Outcome:     s.Outcome,
		Commitments: append([]string(nil), s.Commitments...),
	}
	for _, p := range s.Participants {
		id := constraint.ParticipantID(p.ID)
		in.Participants = append(in.Participants, id)
		tags, dropped := constraint.Sanitize(id, p.Constraints, logger)
		in.Tags = append(in.Tags, tags...)
		in.Quarantined = append(in.Quarantined, dropped...)
	}
	return in
}

// Generator returns a scripted generator when the scenario scripts
// proposals, or nil. Gaps in the round numbering repeat the previous
// round's script.
func (s *Scenario) Generator() oracle.Generator {
	if len(s.Proposals) == 0 {
		return nil
	}
	sorted := append([]ScriptedRound(nil), s.Proposals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Round < sorted[j].Round })

	last := sorted[len(sorted)-1].Round
	rounds := make([]oracle.Generation, last)
	next := 0
	for i := range rounds {
		if next < len(sorted) && sorted[next].Round == i+1 {
			rounds[i] = sorted[next].Generation
			next++
			continue
		}
		if i > 0 {
			rounds[i] = rounds[i-1]
		}
	}
	return &oracle.ScriptedGenerator{Rounds: rounds}
}

// Refiner returns a scripted refiner when the scenario scripts
// refinements, or nil.
func (s *Scenario) Refiner(logger *slog.Logger) oracle.Refiner {
	if len(s.Refinements) == 0 {
		return nil
	}
	updates := make(map[constraint.ParticipantID]map[int][]constraint.Tag, len(s.Refinements))
	for who, byRound := range s.Refinements {
		id := constraint.ParticipantID(who)
		updates[id] = make(map[int][]constraint.Tag, len(byRound))
		for round, raw := range byRound {
			tags, _ := constraint.Sanitize(id, raw, logger)
			updates[id][round] = tags
		}
	}
	return &oracle.ScriptedRefiner{Updates: updates}
}

// Apply returns cfg with the scenario's engine overrides applied.
func (e Engine) Apply(cfg convergence.Config) convergence.Config {
	set(&cfg.MaxRounds, e.MaxRounds)
	set(&cfg.AcceptanceThreshold, e.AcceptanceThreshold)
	set(&cfg.MaxOptOuts, e.MaxOptOuts)
	set(&cfg.AllowForking, e.AllowForking)
	set(&cfg.FlexibilityThreshold, e.FlexibilityThreshold)
	set(&cfg.Patience, e.Patience)
	set(&cfg.ForkAfterRounds, e.ForkAfterRounds)
	set(&cfg.RunTimeout, e.RunTimeout)
	return cfg
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// HasLexicon reports whether the scenario extends the lexicon.
func (s *Scenario) HasLexicon() bool {
	l := s.Lexicon
	return len(l.Synonyms) > 0 || len(l.Dimensions) > 0 || len(l.Costs) > 0 ||
		len(l.CategoryKeywords) > 0 || len(l.Neutral) > 0
}

// BuildLexicon returns the default lexicon merged with the scenario's
// extensions.
func (s *Scenario) BuildLexicon() (*lexicon.Lexicon, error) {
	if !s.HasLexicon() {
		return lexicon.Default(), nil
	}
	return lexicon.Merge(s.Lexicon)
}

// Options returns the engine options the scenario implies: scripted
// generator and refiner, and an extended lexicon.
func (s *Scenario) Options(logger *slog.Logger) ([]convergence.Option, error) {
	var opts []convergence.Option
	if g := s.Generator(); g != nil {
		opts = append(opts, convergence.WithGenerator(g))
	}
	if r := s.Refiner(logger); r != nil {
		opts = append(opts, convergence.WithRefiner(r))
	}
	if s.HasLexicon() {
		lex, err := s.BuildLexicon()
		if err != nil {
			return nil, fmt.Errorf("scenario lexicon: %w", err)
		}
		opts = append(opts, convergence.WithLexicon(lex))
	}
	return opts, nil
}
