// Package record turns a finished run into a versioned, serializable
// audit record, and provides replay verification and round diffs.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/accord/internal/convergence"
)

// Schema identifies the record layout. Enum values inside a record are
// stable strings across versions.
const Schema = "accord.run/v1"

// ErrUnsupportedSchema is returned when decoding a record of another schema.
var ErrUnsupportedSchema = errors.New("unsupported record schema")

// Format is a record encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name, accepting "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown record format %q", s)
}

// Record is the durable artifact of one run.
type Record struct {
	Schema     string                `json:"schema" yaml:"schema"`
	RecordedAt time.Time             `json:"recorded_at" yaml:"recorded_at"`
	Config     convergence.Config    `json:"config" yaml:"config"`
	Run        *convergence.RunState `json:"run" yaml:"run"`
}

// FromRunState wraps a run and the configuration it ran under.
func FromRunState(st *convergence.RunState, cfg convergence.Config) Record {
	return Record{
		Schema:     Schema,
		RecordedAt: time.Now().UTC(),
		Config:     cfg,
		Run:        st,
	}
}

// ID returns the run ID, or "" for an empty record.
func (r Record) ID() string {
	if r.Run == nil {
		return ""
	}
	return r.Run.ID
}

// Encode writes rec in the given format.
func Encode(w io.Writer, rec Record, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record json: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown record format %q", format)
}

// Decode reads a record and checks its schema.
func Decode(r io.Reader, format Format) (Record, error) {
	var rec Record
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&rec); err != nil {
			return rec, fmt.Errorf("decode record yaml: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&rec); err != nil {
			return rec, fmt.Errorf("decode record json: %w", err)
		}
	default:
		return rec, fmt.Errorf("unknown record format %q", format)
	}
	if rec.Schema != Schema {
		return rec, fmt.Errorf("%w: %q", ErrUnsupportedSchema, rec.Schema)
	}
	if rec.Run == nil {
		return rec, errors.New("record has no run")
	}
	return rec, nil
}
