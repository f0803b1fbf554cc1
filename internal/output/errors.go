package output

import (
	"errors"
	"fmt"
	"io"
)

// CLIError is an error with a stable code and an optional hint for the
// user.
type CLIError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"error" yaml:"error"`
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
	Cause   error  `json:"-" yaml:"-"`
}

func (e *CLIError) Error() string {
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Cause
}

// Response converts the error to the JSON error envelope.
func (e *CLIError) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message, Code: e.Code, Details: e.Hint}
}

// RunNotFoundError reports an unknown run ID.
func RunNotFoundError(id string) *CLIError {
	return &CLIError{
		Code:    "RUN_NOT_FOUND",
		Message: fmt.Sprintf("run %q not found", id),
		Hint:    "list stored runs with: accord history list",
	}
}

// RoundOutOfRangeError reports a round index the run never reached.
func RoundOutOfRangeError(id string, round, rounds int) *CLIError {
	return &CLIError{
		Code:    "ROUND_OUT_OF_RANGE",
		Message: fmt.Sprintf("run %q has no round %d", id, round),
		Hint:    fmt.Sprintf("rounds are numbered 1 to %d", rounds),
	}
}

// ScenarioLoadError reports a scenario file that could not be used.
func ScenarioLoadError(path string, err error) *CLIError {
	return &CLIError{
		Code:    "SCENARIO_INVALID",
		Message: fmt.Sprintf("cannot load scenario %s: %v", path, err),
		Hint:    "check the file against the examples in the README",
		Cause:   err,
	}
}

// ConfigLoadError reports a configuration file that could not be used.
func ConfigLoadError(path string, err error) *CLIError {
	return &CLIError{
		Code:    "CONFIG_INVALID",
		Message: fmt.Sprintf("cannot load config %s: %v", path, err),
		Hint:    "print the effective configuration with: accord config show",
		Cause:   err,
	}
}

// InvalidFlagError reports a flag value outside its accepted set.
func InvalidFlagError(flag, value, expected string) *CLIError {
	return &CLIError{
		Code:    "INVALID_FLAG",
		Message: fmt.Sprintf("invalid value %q for --%s", value, flag),
		Hint:    expected,
	}
}

// StorageDisabledError reports a command that needs a store when storage
// is off.
func StorageDisabledError() *CLIError {
	return &CLIError{
		Code:    "STORAGE_DISABLED",
		Message: "run storage is disabled",
		Hint:    "set storage.backend in the config or ACCORD_STORAGE",
	}
}

// WriteError renders err for the given format: the JSON or YAML error
// envelope, or a styled line with the hint underneath.
func WriteError(w io.Writer, err error, f Format) error {
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		cliErr = &CLIError{Message: err.Error()}
	}
	if f.IsStructured() {
		return WriteStructured(w, cliErr.Response(), f)
	}
	p := PaletteFor(w)
	if _, werr := fmt.Fprintf(w, "%s %s\n", p.Error.Render("error:"), cliErr.Message); werr != nil {
		return werr
	}
	if cliErr.Hint != "" {
		_, werr := fmt.Fprintf(w, "  %s\n", p.Muted.Render(cliErr.Hint))
		return werr
	}
	return nil
}
