package bulkapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// The service reports failures as a JSON array of {errorCode, message}
// objects. Errors raised here keep the first code and message verbatim along
// with the HTTP status and the operation that failed, which is enough context
// to reproduce the failing request.

// AuthError means the service rejected the credentials or token. It is fatal
// and never retried.
type AuthError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (status %d %s): %s", e.Op, e.Status, e.Code, e.Message)
}

// RequestError means the service rejected the request as malformed (bad
// query, invalid object, invalid job transition on the server side). Fatal.
type RequestError struct {
	Op      string
	JobID   string
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s: job %s: request rejected (status %d %s): %s", e.Op, e.JobID, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: request rejected (status %d %s): %s", e.Op, e.Status, e.Code, e.Message)
}

// RateLimitError means the service signalled throttling. It is retried with
// bounded backoff inside the client; callers only see it once retries are
// exhausted.
type RateLimitError struct {
	Op      string
	Status  int
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: service throttled the request (status %d): %s", e.Op, e.Status, e.Message)
}

// serviceError covers transient 5xx responses. Retried like throttling.
type serviceError struct {
	Op      string
	Status  int
	Message string
}

func (e *serviceError) Error() string {
	return fmt.Sprintf("%s: service error (status %d): %s", e.Op, e.Status, e.Message)
}

// StateError means an operation was attempted on a job whose current state
// does not allow it, like uploading to a closed job. This is a usage error,
// not a service failure.
type StateError struct {
	Op    string
	JobID string
	State JobState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: job %s is %s", e.Op, e.JobID, e.State)
}

// TimeoutError means the polling budget ran out while the job was still not
// terminal. The job keeps running server-side; polling may be resumed with
// the same job id.
type TimeoutError struct {
	JobID     string
	Budget    time.Duration
	LastState JobState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s still %s after %s; it is left running server-side and can be polled again with the same job id",
		e.JobID, e.LastState, e.Budget)
}

// ChunkFailure identifies one failed partition of a chunked query.
type ChunkFailure struct {
	JobID    string
	Position int
	State    JobState
}

// PartialChunkFailureError means one or more partitions of a chunked query
// ended Failed or Aborted. The whole export fails and no output is written:
// a partial extract is indistinguishable from a complete one downstream.
type PartialChunkFailureError struct {
	ParentID string
	Failed   []ChunkFailure
}

func (e *PartialChunkFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query job %s: %d of its partitions did not complete:", e.ParentID, len(e.Failed))
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "\n - partition %d (job %s) ended %s", f.Position, f.JobID, f.State)
	}
	return b.String()
}

// ConsistencyError means the per-record outcome sets retrieved for an ingest
// job do not add up to the record count the service reported processing.
// Surfaced rather than silently accepted.
type ConsistencyError struct {
	JobID     string
	Processed int64
	Succeeded int64
	Failed    int64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("job %s: outcome sets do not reconcile: %d succeeded + %d failed != %d processed",
		e.JobID, e.Succeeded, e.Failed, e.Processed)
}

const maxErrorBody = 512

// classify maps a non-2xx response onto the error taxonomy.
func classify(op, jobID string, status int, body []byte) error {
	code := gjson.GetBytes(body, "0.errorCode").String()
	msg := gjson.GetBytes(body, "0.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
	}

	switch {
	case status == 401 || code == "INVALID_SESSION_ID":
		return &AuthError{Op: op, Status: status, Code: code, Message: msg}
	case status == 429 || code == "REQUEST_LIMIT_EXCEEDED":
		return &RateLimitError{Op: op, Status: status, Message: msg}
	case status >= 500:
		return &serviceError{Op: op, Status: status, Message: msg}
	default:
		return &RequestError{Op: op, JobID: jobID, Status: status, Code: code, Message: msg}
	}
}

// retryable reports whether the client should retry the request after a
// backoff delay. Only throttling and transient service errors qualify.
func retryable(err error) bool {
	switch err.(type) {
	case *RateLimitError, *serviceError:
		return true
	}
	return false
}
