package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/puk/internal/ledger"
	"github.com/roach88/puk/internal/playbook"
)

// Exit codes for CLI commands.
const (
	ExitSuccess     = 0 // run completed
	ExitRuntime     = 1 // agent runtime or ledger failure
	ExitValidation  = 2 // malformed playbook, bad parameters, bad settings
	ExitPolicy      = 3 // reserved: a run aborted by a policy breach; denials are recorded in the run instead
	ExitConcurrency = 4 // run busy or run not found
)

// ExitError carries a specific exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error. Non-ExitError errors map
// to ExitRuntime.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitRuntime
}

// classify wraps an error with the exit code its taxonomy class prescribes.
func classify(message string, err error) *ExitError {
	code := ExitRuntime
	var verr *playbook.ValidationError
	switch {
	case errors.As(err, &verr):
		code = ExitValidation
	case errors.Is(err, ledger.ErrRunBusy),
		errors.Is(err, ledger.ErrRunNotFound),
		errors.Is(err, ledger.ErrRunExists):
		code = ExitConcurrency
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

func validationError(message string, err error) *ExitError {
	return &ExitError{Code: ExitValidation, Message: message, Err: err}
}

// OutputFormatter handles JSON vs text output for commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// Response is the standard JSON envelope for command output.
type Response struct {
	Status string   `json:"status"`
	Data   any      `json:"data,omitempty"`
	Error  *RespErr `json:"error,omitempty"`
}

// RespErr carries error details in a JSON response.
type RespErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON reports whether the formatter emits JSON.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success emits a success payload. In text mode data is printed with
// Fprintln unless it is a string, which is written verbatim.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if s, ok := data.(string); ok {
		_, err := io.WriteString(f.Writer, s)
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error emits an error payload.
func (f *OutputFormatter) Error(code int, message string) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &RespErr{Code: code, Message: message},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "error: %s\n", message)
	return err
}
