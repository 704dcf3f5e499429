package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/meridiandata/sfconnect/bulkapi"
	"github.com/meridiandata/sfconnect/go/auth/salesforce"
	log "github.com/sirupsen/logrus"
)

// Exit statuses distinguish broad failure classes so callers of the CLI can
// branch on them without parsing log output.
const (
	ExitGeneral     = 1 // configuration mistakes, bad input files, anything else
	ExitAuth        = 2 // credential or token failures
	ExitRequest     = 3 // API request failures, throttling, poll timeouts
	ExitPartialData = 4 // a result set that cannot be trusted as complete
)

// UserError wraps a source error with a user-facing message for the error string. The source error
// can be provided so that it can be logged separately from the user-facing message for diagnostic
// purposes.
type UserError struct {
	message string
	source  error
}

// NewUserError creates a UserError that will output message as the error string.
func NewUserError(source error, message string) *UserError {
	return &UserError{
		message: message,
		source:  source,
	}
}

func (e *UserError) Unwrap() error {
	return e.source
}

func (e *UserError) Error() string {
	return e.message
}

// Source returns the wrapped source error.
func (e *UserError) Source() error {
	return e.source
}

// ExitStatus maps an error to the process exit status it should produce.
func ExitStatus(err error) int {
	var tokenErr *salesforce.TokenError
	var authErr *bulkapi.AuthError
	if errors.As(err, &tokenErr) || errors.As(err, &authErr) {
		return ExitAuth
	}

	var partialErr *bulkapi.PartialChunkFailureError
	var consistencyErr *bulkapi.ConsistencyError
	if errors.As(err, &partialErr) || errors.As(err, &consistencyErr) {
		return ExitPartialData
	}

	var requestErr *bulkapi.RequestError
	var rateErr *bulkapi.RateLimitError
	var timeoutErr *bulkapi.TimeoutError
	if errors.As(err, &requestErr) || errors.As(err, &rateErr) || errors.As(err, &timeoutErr) {
		return ExitRequest
	}

	return ExitGeneral
}

// HandleFinalError performs special handling for final errors when the error type is one that is
// defined in this package. For other errors, the error is logged on a newline. The process always
// exits with the status ExitStatus assigns to the error.
func HandleFinalError(err error) {
	var status = ExitStatus(err)

	var userError *UserError
	if errors.As(err, &userError) {
		log.WithFields(log.Fields{
			"source": userError.Source(),
		}).Error(userError)
		os.Exit(status)
	}

	_, _ = os.Stderr.WriteString(err.Error())
	_, _ = os.Stderr.Write([]byte("\n"))
	os.Exit(status)
}

// PrereqErr is a wrapper for recording accumulated errors during prerequisite checking and
// formatting them for user presentation.
type PrereqErr struct {
	errs []error
}

// Err adds an error to the accumulated list of errors.
func (e *PrereqErr) Err(err error) {
	e.errs = append(e.errs, err)
}

func (e *PrereqErr) Len() int {
	return len(e.errs)
}

func (e *PrereqErr) Unwrap() []error {
	return e.errs
}

func (e *PrereqErr) Error() string {
	var b = new(strings.Builder)
	fmt.Fprintf(b, "cannot run due to the following error(s):")
	for _, err := range e.errs {
		b.WriteString("\n - ")
		b.WriteString(err.Error())
	}
	return b.String()
}
