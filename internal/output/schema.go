package output

import (
	"time"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// ErrorResponse is the standard JSON error format
type ErrorResponse struct {
	Error   string `json:"error" yaml:"error"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`
}

// NewError creates a new error response
func NewError(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}

// NewErrorWithCode creates a new error response with a code
func NewErrorWithCode(code, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, Code: code}
}

// NewErrorWithDetails creates a new error response with details
func NewErrorWithDetails(msg, details string) ErrorResponse {
	return ErrorResponse{Error: msg, Details: details}
}

// SuccessResponse is a simple success indicator
type SuccessResponse struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewSuccess creates a success response
func NewSuccess(msg string) SuccessResponse {
	return SuccessResponse{Success: true, Message: msg}
}

// TimestampedResponse adds a timestamp to any response
type TimestampedResponse struct {
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}

// NewTimestamped creates a timestamped response base
func NewTimestamped() TimestampedResponse {
	return TimestampedResponse{GeneratedAt: Timestamp()}
}

// Timestamp returns the current time in UTC, truncated to the second.
func Timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// RunResponse is the summary of one run and its forks.
type RunResponse struct {
	TimestampedResponse `yaml:",inline"`

	ID             string             `json:"id" yaml:"id"`
	ParentID       string             `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Outcome        string             `json:"outcome" yaml:"outcome"`
	Status         convergence.Status `json:"status" yaml:"status"`
	Reason         string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rounds         int                `json:"rounds" yaml:"rounds"`
	Tally          response.Tally     `json:"tally" yaml:"tally"`
	AcceptanceRate float64            `json:"acceptance_rate" yaml:"acceptance_rate"`
	Plan           string             `json:"plan,omitempty" yaml:"plan,omitempty"`
	Unverified     bool               `json:"unverified,omitempty" yaml:"unverified,omitempty"`
	Tensions       []string           `json:"tensions,omitempty" yaml:"tensions,omitempty"`
	Violations     []string           `json:"violations,omitempty" yaml:"violations,omitempty"`
	OptedOut       []string           `json:"opted_out,omitempty" yaml:"opted_out,omitempty"`
	Quarantined    int                `json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
	Forks          []RunResponse      `json:"forks,omitempty" yaml:"forks,omitempty"`
	DurationMs     int64              `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// NewRunResponse summarizes st. A nil state yields the zero response.
func NewRunResponse(st *convergence.RunState) RunResponse {
	if st == nil {
		return RunResponse{}
	}
	resp := RunResponse{
		TimestampedResponse: NewTimestamped(),
		ID:                  st.ID,
		ParentID:            st.ParentID,
		Outcome:             st.Outcome,
		Status:              st.Status,
		Rounds:              len(st.History),
		Quarantined:         len(st.Quarantined),
	}
	if n := len(st.History); n > 0 {
		resp.Plan = st.History[n-1].Combined.Content
	}
	if !st.FinishedAt.IsZero() {
		resp.DurationMs = st.FinishedAt.Sub(st.StartedAt).Milliseconds()
	}
	if r := st.Result; r != nil {
		resp.Reason = r.Reason
		resp.Tally = r.Tally
		resp.AcceptanceRate = r.AcceptanceRate
		resp.Unverified = r.Unverified
		for _, t := range r.UnresolvedTensions {
			resp.Tensions = append(resp.Tensions, t.Description)
		}
		for _, v := range r.ViolatedNonNegotiables {
			resp.Violations = append(resp.Violations, string(v.Participant)+": "+v.Constraint)
		}
		for _, p := range r.OptedOut {
			resp.OptedOut = append(resp.OptedOut, string(p))
		}
	}
	for _, f := range st.Forks {
		resp.Forks = append(resp.Forks, NewRunResponse(f))
	}
	return resp
}

// ListResponse wraps a listing with its count.
type ListResponse[T any] struct {
	TimestampedResponse `yaml:",inline"`

	Count int `json:"count" yaml:"count"`
	Items []T `json:"items" yaml:"items"`
}

// NewList creates a timestamped listing.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{TimestampedResponse: NewTimestamped(), Count: len(items), Items: items}
}
