package constraint

import (
	"fmt"
	"log/slog"
	"strings"
)

// RawTag is a tag as supplied by the extraction collaborator or a scenario
// file, before its free-form fields are checked against the closed enums.
type RawTag struct {
	ID          string  `json:"id,omitempty" yaml:"id,omitempty"`
	Text        string  `json:"text" yaml:"text"`
	Kind        string  `json:"kind" yaml:"kind"`
	Priority    string  `json:"priority" yaml:"priority"`
	Category    string  `json:"category,omitempty" yaml:"category,omitempty"`
	Flexibility float64 `json:"flexibility,omitempty" yaml:"flexibility,omitempty"`
}

// Quarantined records an input value that was dropped at the boundary.
type Quarantined struct {
	Owner  ParticipantID `json:"owner" yaml:"owner"`
	Raw    RawTag        `json:"raw" yaml:"raw"`
	Reason string        `json:"reason" yaml:"reason"`
}

func canonicalToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.Join(strings.Fields(s), "-")
}

// ParseKind maps a free-form kind onto the closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(canonicalToken(s))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// ParseSeverity maps a free-form severity onto the closed set.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(canonicalToken(s))
	if sev == "nonnegotiable" {
		sev = SeverityNonNegotiable
	}
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// ParseIntensity maps a free-form intensity onto the closed set.
func ParseIntensity(s string) (Intensity, error) {
	in := Intensity(canonicalToken(s))
	if in == "musthave" {
		in = IntensityMustHave
	}
	if !in.IsValid() {
		return "", fmt.Errorf("unknown intensity %q", s)
	}
	return in, nil
}

// ParseCategory maps a free-form category onto the closed set. An empty
// input yields the empty category, which means "let structuring decide".
func ParseCategory(s string) (Category, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	c := Category(canonicalToken(s))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Parse converts a raw tag into a validated Tag. A priority on the wrong
// scale for the kind is an error rather than being coerced.
func (r RawTag) Parse(owner ParticipantID) (Tag, error) {
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return Tag{}, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	tag := Tag{
		ID:          strings.TrimSpace(r.ID),
		Text:        strings.TrimSpace(r.Text),
		Kind:        kind,
		Owner:       owner,
		Flexibility: r.Flexibility,
	}
	switch kind {
	case KindConcern:
		if tag.Severity, err = ParseSeverity(r.Priority); err != nil {
			return Tag{}, fmt.Errorf("%w: concern: %v", ErrInvalidTag, err)
		}
	case KindDesire:
		if tag.Intensity, err = ParseIntensity(r.Priority); err != nil {
			return Tag{}, fmt.Errorf("%w: desire: %v", ErrInvalidTag, err)
		}
	}
	if tag.Category, err = ParseCategory(r.Category); err != nil {
		return Tag{}, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	if err := tag.Validate(); err != nil {
		return Tag{}, err
	}
	return tag, nil
}

// Sanitize parses every raw tag for owner, keeping the valid ones and
// quarantining the rest with a warning. It never fails.
func Sanitize(owner ParticipantID, raw []RawTag, logger *slog.Logger) ([]Tag, []Quarantined) {
	if logger == nil {
		logger = slog.Default()
	}
	tags := make([]Tag, 0, len(raw))
	var dropped []Quarantined
	for _, r := range raw {
		tag, err := r.Parse(owner)
		if err != nil {
			logger.Warn("constraint quarantined",
				"participant", owner,
				"text", r.Text,
				"error", err,
			)
			dropped = append(dropped, Quarantined{Owner: owner, Raw: r, Reason: err.Error()})
			continue
		}
		tags = append(tags, tag)
	}
	return tags, dropped
}
