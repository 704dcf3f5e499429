package bulkapi

import (
	"bytes"
	"fmt"
)

// JobState is a job lifecycle state as reported by the bulk service. The
// service is the sole source of truth for these: a client never infers a
// state transition from elapsed time or row counts, and a job never leaves a
// terminal state.
type JobState string

const (
	// StateOpen means the job accepts uploaded record batches (ingest only).
	StateOpen JobState = "Open"
	// StateUploadComplete means all input has been delivered and the service
	// will begin processing.
	StateUploadComplete JobState = "UploadComplete"
	// StateInProgress means the service is processing the job. Query jobs
	// enter this state immediately after creation.
	StateInProgress JobState = "InProgress"
	// StateJobComplete, StateFailed and StateAborted are terminal.
	StateJobComplete JobState = "JobComplete"
	StateFailed      JobState = "Failed"
	StateAborted     JobState = "Aborted"
)

// Terminal reports whether a job in this state will never change state again.
func (s JobState) Terminal() bool {
	switch s {
	case StateJobComplete, StateFailed, StateAborted:
		return true
	}
	return false
}

// JobKind selects between the two bulk endpoints.
type JobKind string

const (
	KindIngest JobKind = "ingest"
	KindQuery  JobKind = "query"
)

// Operation is the unit of work a job performs.
type Operation string

const (
	OpInsert   Operation = "insert"
	OpUpdate   Operation = "update"
	OpUpsert   Operation = "upsert"
	OpDelete   Operation = "delete"
	OpQuery    Operation = "query"
	OpQueryAll Operation = "queryAll"
)

// Kind returns the endpoint family the operation belongs to.
func (o Operation) Kind() JobKind {
	if o == OpQuery || o == OpQueryAll {
		return KindQuery
	}
	return KindIngest
}

func (o Operation) validate() error {
	switch o {
	case OpInsert, OpUpdate, OpUpsert, OpDelete, OpQuery, OpQueryAll:
		return nil
	}
	return fmt.Errorf("invalid operation %q", string(o))
}

// BulkJob is the client-side handle for one server-side asynchronous job. It
// is mutated only by refreshing it from the service; callers pass the same
// handle through the whole lifecycle rather than re-creating it, so a timed
// out poll can always be resumed with the same job id.
type BulkJob struct {
	ID             string    `json:"id"`
	Operation      Operation `json:"operation"`
	Object         string    `json:"object,omitempty"`
	Query          string    `json:"query,omitempty"`
	State          JobState  `json:"state"`
	CreatedDate    string    `json:"createdDate,omitempty"`
	SystemModstamp string    `json:"systemModstamp,omitempty"`
	ContentType    string    `json:"contentType,omitempty"`

	// Counters reported by the service once processing begins. Processed
	// includes failed records.
	RecordsProcessed int64 `json:"numberRecordsProcessed,omitempty"`
	RecordsFailed    int64 `json:"numberRecordsFailed,omitempty"`

	// ChildJobIDs holds the chunk jobs of a PK-chunked query, in the
	// partition order the service returned them. Result merging follows this
	// order, never completion order.
	ChildJobIDs []string `json:"childJobIds,omitempty"`

	// Kind is not part of the wire representation; it is fixed at creation
	// and determines which endpoint family subsequent requests use.
	Kind JobKind `json:"-"`
}

// update refreshes the handle from a status response without losing
// client-side fields the status endpoint does not echo back.
func (j *BulkJob) update(remote *BulkJob) {
	j.State = remote.State
	j.RecordsProcessed = remote.RecordsProcessed
	j.RecordsFailed = remote.RecordsFailed
	if remote.SystemModstamp != "" {
		j.SystemModstamp = remote.SystemModstamp
	}
	if len(remote.ChildJobIDs) > 0 {
		j.ChildJobIDs = remote.ChildJobIDs
	}
}

// ResultBatch is one retrieved page of a query job's results, as raw CSV
// bytes. The page carries the continuation locator for the next page; an
// empty locator means the result set is exhausted.
type ResultBatch struct {
	Content     []byte
	First       bool
	NextLocator string
	Records     int
}

// Data returns the page's rows, with the header line stripped from every page
// after the first so that a merged stream carries exactly one header.
func (b *ResultBatch) Data() []byte {
	if b.First {
		return b.Content
	}
	return stripHeaderLine(b.Content)
}

func stripHeaderLine(content []byte) []byte {
	i := bytes.IndexByte(content, '\n')
	if i < 0 {
		// A page without a line break is a header-only (empty) page.
		return nil
	}
	return content[i+1:]
}
