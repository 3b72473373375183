package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nerrad567/fleetctl/internal/credentials"
	"github.com/nerrad567/fleetctl/internal/identity"
	"github.com/nerrad567/fleetctl/internal/messages"
	"github.com/nerrad567/fleetctl/internal/orchestrator"
	"github.com/nerrad567/fleetctl/internal/registry"
	"github.com/nerrad567/fleetctl/internal/session"
)

// Exit codes for CLI commands.
const (
	ExitSuccess        = 0
	ExitFailure        = 1 // Unclassified failure
	ExitUsage          = 2 // Bad flags, arguments or input documents
	ExitCredentials    = 3 // Certificate or key not found
	ExitRootCert       = 4 // Root CA bundle not found
	ExitConnect        = 5 // Broker handshake failed
	ExitPublish        = 6
	ExitSubscribe      = 7
	ExitUnsubscribe    = 8
	ExitNotConnected   = 9  // No live or stored connection for the node
	ExitStoreCorrupted = 10 // A persisted store could not be decoded
)

// codeNames label exit codes in JSON error output.
var codeNames = map[int]string{
	ExitFailure:        "failure",
	ExitUsage:          "usage",
	ExitCredentials:    "credentials_not_found",
	ExitRootCert:       "root_cert_not_found",
	ExitConnect:        "connect_failed",
	ExitPublish:        "publish_failed",
	ExitSubscribe:      "subscribe_failed",
	ExitUnsubscribe:    "unsubscribe_failed",
	ExitNotConnected:   "not_connected",
	ExitStoreCorrupted: "store_corrupted",
}

// ExitError represents an error with a specific exit code.
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

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error: ExitSuccess for nil,
// the ExitError code when present, otherwise the code its cause maps to.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return classify(err)
}

// classify maps the typed errors of the core packages to exit codes.
// Connection-state failures are checked first: they wrap the dial error
// that caused them.
func classify(err error) int {
	switch {
	case errors.Is(err, registry.ErrStoreCorrupted), errors.Is(err, identity.ErrStoreCorrupted):
		return ExitStoreCorrupted
	case errors.Is(err, orchestrator.ErrNotConnected),
		errors.Is(err, orchestrator.ErrNoActiveNode),
		errors.Is(err, registry.ErrNotFound):
		return ExitNotConnected
	case errors.Is(err, credentials.ErrCredentialsNotFound), errors.Is(err, identity.ErrFileNotFound):
		return ExitCredentials
	case errors.Is(err, credentials.ErrRootCertNotFound):
		return ExitRootCert
	case errors.Is(err, session.ErrConnectFailed):
		return ExitConnect
	case errors.Is(err, session.ErrPublishFailed), errors.Is(err, session.ErrEncodePayload):
		return ExitPublish
	case errors.Is(err, session.ErrSubscribeFailed):
		return ExitSubscribe
	case errors.Is(err, session.ErrUnsubscribeFailed):
		return ExitUnsubscribe
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrHandleClosed):
		return ExitNotConnected
	case errors.Is(err, orchestrator.ErrNoNodes),
		errors.Is(err, messages.ErrInvalidDataType),
		errors.Is(err, messages.ErrInvalidValue),
		errors.Is(err, messages.ErrInvalidStatus),
		errors.Is(err, messages.ErrInvalidPayload),
		errors.Is(err, messages.ErrMissingField),
		errors.Is(err, messages.ErrNodeMismatch),
		errors.Is(err, identity.ErrInvalidNodeID),
		errors.Is(err, credentials.ErrInvalidBasePath):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Progress and diagnostics (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a JSON response.
type CLIError struct {
	Code     string `json:"code"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// Success writes a command result. In text mode text is printed as is
// (nothing when empty); in JSON mode data is wrapped in a CLIResponse.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != "" {
		fmt.Fprintln(f.Writer, text)
	}
	return nil
}

// Progress writes a human-oriented status line. In JSON mode it goes to
// ErrWriter so stdout stays machine-readable.
func (f *OutputFormatter) Progress(format string, args ...any) {
	w := f.Writer
	if f.Format == "json" {
		w = f.GetErrWriter()
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// Error reports a failed command.
func (f *OutputFormatter) Error(err error) {
	code := GetExitCode(err)
	if f.Format == "json" {
		//nolint:errcheck // Nothing left to report a write failure to
		json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: codeNames[code], ExitCode: code, Message: err.Error()},
		})
		return
	}
	fmt.Fprintf(f.GetErrWriter(), "Error: %v\n", err)
}

// VerboseLog outputs a message only in verbose mode.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
