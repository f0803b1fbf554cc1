// Package constraint defines the canonical model for what participants need
// and want: concerns graded by severity, desires graded by intensity, and the
// decision categories they are grouped under.
package constraint

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTag is returned when a tag fails boundary validation.
var ErrInvalidTag = errors.New("invalid constraint tag")

// ParticipantID identifies a participant in a negotiation.
type ParticipantID string

// String returns the identifier as a string.
func (p ParticipantID) String() string {
	return string(p)
}

// Kind distinguishes concerns (things that must not go wrong) from desires
// (things a participant wants).
type Kind string

const (
	KindConcern Kind = "concern"
	KindDesire  Kind = "desire"
)

// String returns the kind as a string.
func (k Kind) String() string {
	return string(k)
}

// IsValid returns true if this is a known kind.
func (k Kind) IsValid() bool {
	return k == KindConcern || k == KindDesire
}

// Category is the decision dimension a constraint belongs to.
type Category string

const (
	CategoryWhen   Category = "when"
	CategoryWhere  Category = "where"
	CategoryWhat   Category = "what"
	CategoryBudget Category = "budget"
	CategoryWho    Category = "who"
	CategoryHow    Category = "how"
)

// String returns the category as a string.
func (c Category) String() string {
	return string(c)
}

// IsValid returns true if this is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryWhen, CategoryWhere, CategoryWhat, CategoryBudget, CategoryWho, CategoryHow:
		return true
	default:
		return false
	}
}

// AllCategories returns every category in canonical order.
func AllCategories() []Category {
	return []Category{CategoryWhen, CategoryWhere, CategoryWhat, CategoryBudget, CategoryWho, CategoryHow}
}

// Severity grades a concern. The zero value is not a valid severity.
type Severity string

const (
	SeverityNonNegotiable    Severity = "non-negotiable"
	SeverityStrongPreference Severity = "strong-preference"
	SeverityPreference       Severity = "preference"
	SeverityNiceToHave       Severity = "nice-to-have"
)

// String returns the severity as a string.
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if this is a known severity.
func (s Severity) IsValid() bool {
	return s.rank() > 0
}

func (s Severity) rank() int {
	switch s {
	case SeverityNonNegotiable:
		return 4
	case SeverityStrongPreference:
		return 3
	case SeverityPreference:
		return 2
	case SeverityNiceToHave:
		return 1
	default:
		return 0
	}
}

// Compare orders two severities: negative if s is weaker than other,
// zero if equal, positive if stronger.
func (s Severity) Compare(other Severity) int {
	return s.rank() - other.rank()
}

// Intensity grades a desire. The zero value is not a valid intensity.
type Intensity string

const (
	IntensityMustHave   Intensity = "must-have"
	IntensityWouldLove  Intensity = "would-love"
	IntensityWouldLike  Intensity = "would-like"
	IntensityNiceToHave Intensity = "nice-to-have"
)

// String returns the intensity as a string.
func (i Intensity) String() string {
	return string(i)
}

// IsValid returns true if this is a known intensity.
func (i Intensity) IsValid() bool {
	return i.rank() > 0
}

func (i Intensity) rank() int {
	switch i {
	case IntensityMustHave:
		return 4
	case IntensityWouldLove:
		return 3
	case IntensityWouldLike:
		return 2
	case IntensityNiceToHave:
		return 1
	default:
		return 0
	}
}

// Compare orders two intensities: negative if i is weaker than other,
// zero if equal, positive if stronger.
func (i Intensity) Compare(other Intensity) int {
	return i.rank() - other.rank()
}

// Tag is a single graded constraint owned by one participant.
//
// Tags are values. A later round never edits a tag; it adds a new one and
// records the supersession in a Ledger.
type Tag struct {
	ID          string        `json:"id" yaml:"id"`
	Text        string        `json:"text" yaml:"text"`
	Kind        Kind          `json:"kind" yaml:"kind"`
	Severity    Severity      `json:"severity,omitempty" yaml:"severity,omitempty"`
	Intensity   Intensity     `json:"intensity,omitempty" yaml:"intensity,omitempty"`
	Owner       ParticipantID `json:"owner" yaml:"owner"`
	Category    Category      `json:"category,omitempty" yaml:"category,omitempty"`
	Flexibility float64       `json:"flexibility,omitempty" yaml:"flexibility,omitempty"`
	Round       int           `json:"round,omitempty" yaml:"round,omitempty"`
}

// Validate checks that the tag carries a priority on the scale its kind uses.
func (t Tag) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidTag)
	}
	if t.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidTag)
	}
	switch t.Kind {
	case KindConcern:
		if !t.Severity.IsValid() {
			return fmt.Errorf("%w: concern %q has unknown severity %q", ErrInvalidTag, t.Text, t.Severity)
		}
		if t.Intensity != "" {
			return fmt.Errorf("%w: concern %q carries a desire intensity", ErrInvalidTag, t.Text)
		}
	case KindDesire:
		if !t.Intensity.IsValid() {
			return fmt.Errorf("%w: desire %q has unknown intensity %q", ErrInvalidTag, t.Text, t.Intensity)
		}
		if t.Severity != "" {
			return fmt.Errorf("%w: desire %q carries a concern severity", ErrInvalidTag, t.Text)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTag, t.Kind)
	}
	if t.Category != "" && !t.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTag, t.Category)
	}
	if t.Flexibility < 0 || t.Flexibility > 1 {
		return fmt.Errorf("%w: flexibility %.2f outside [0,1]", ErrInvalidTag, t.Flexibility)
	}
	return nil
}

// Priority renders the tag's grade on whichever scale it uses.
func (t Tag) Priority() string {
	if t.Kind == KindDesire {
		return t.Intensity.String()
	}
	return t.Severity.String()
}

// IsNonNegotiable reports whether the tag is a top-tier concern.
func (t Tag) IsNonNegotiable() bool {
	return t.Kind == KindConcern && t.Severity == SeverityNonNegotiable
}

// IsMustHave reports whether the tag is a top-tier desire.
func (t Tag) IsMustHave() bool {
	return t.Kind == KindDesire && t.Intensity == IntensityMustHave
}

// IsTopTier reports whether the tag sits on the top tier of its own scale.
func (t Tag) IsTopTier() bool {
	return t.IsNonNegotiable() || t.IsMustHave()
}

// IsStrong reports whether the tag sits on the second tier of its scale
// (strong-preference or would-love).
func (t Tag) IsStrong() bool {
	return (t.Kind == KindConcern && t.Severity == SeverityStrongPreference) ||
		(t.Kind == KindDesire && t.Intensity == IntensityWouldLove)
}

// StrictlyWeaker reports whether t is strictly weaker than other. Tags on
// different scales are never comparable, so the result is false for them.
func (t Tag) StrictlyWeaker(other Tag) bool {
	if t.Kind != other.Kind {
		return false
	}
	if t.Kind == KindConcern {
		return t.Severity.Compare(other.Severity) < 0
	}
	return t.Intensity.Compare(other.Intensity) < 0
}

// Stronger returns whichever of a and b ranks higher on their shared scale.
// When the scales differ the top-tier tag wins, otherwise a is returned.
func Stronger(a, b Tag) Tag {
	if a.Kind == b.Kind {
		if a.StrictlyWeaker(b) {
			return b
		}
		return a
	}
	if !a.IsTopTier() && b.IsTopTier() {
		return b
	}
	return a
}
