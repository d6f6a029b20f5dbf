package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/fragstore/internal/queryir"
	"github.com/roach88/fragstore/internal/schema"
	"github.com/roach88/fragstore/internal/storage"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The input was read but is invalid (bad schema, bad query)
	ExitCommandError = 2 // The command could not run (missing files, unreachable store)
)

// ErrCodeQuery tags query parse failures in CLI output.
const ErrCodeQuery = "QUERY"

// ExitError carries the process exit code of a failed command.
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

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// ExitErrors exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode returns the code shown for err: the schema loader code, the
// storage category, or QUERY for a malformed query.
func ErrorCode(err error) string {
	var loadErr *schema.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var parseErr *queryir.ParseError
	if errors.As(err, &parseErr) {
		return ErrCodeQuery
	}
	var storeErr *storage.Error
	if errors.As(err, &storeErr) {
		return string(storeErr.Code)
	}
	return schema.ErrCodeGeneric
}

// exitCodeFor classifies err: bad input is a failure, everything else
// means the command could not run.
func exitCodeFor(err error) int {
	var loadErr *schema.LoadError
	if errors.As(err, &loadErr) {
		switch loadErr.Code {
		case schema.ErrCodeScanError, schema.ErrCodeNoFiles, schema.ErrCodeNotFound:
			return ExitCommandError
		}
		return ExitFailure
	}
	var parseErr *queryir.ParseError
	if errors.As(err, &parseErr) || storage.IsConfigError(err) {
		return ExitFailure
	}
	return ExitCommandError
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success writes data. Text output prints it with its default format.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error. Details are shown in text mode only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	_ = f.Error(ErrorCode(err), err.Error(), nil)
	return WrapExitError(exitCodeFor(err), message, err)
}

// VerboseLog writes a line only in verbose mode, to ErrWriter when set so
// JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
