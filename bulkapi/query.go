package bulkapi

import (
	"context"
	"fmt"
	"io"
	"strconv"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// QueryConfig describes an extract job to be created.
type QueryConfig struct {
	Query string
	// Operation is OpQuery or OpQueryAll. Blank defaults to OpQuery.
	Operation Operation
	// PKChunkSize, when positive, asks the service to split the extract into
	// primary-key ranges of at most this many records, each processed as a
	// separate chunk job under the created parent.
	PKChunkSize int
}

func (c QueryConfig) Validate() error {
	if c.Query == "" {
		return fmt.Errorf("missing query text")
	}
	if c.Operation != "" {
		if err := c.Operation.validate(); err != nil {
			return err
		}
		if c.Operation.Kind() != KindQuery {
			return fmt.Errorf("operation %q is not an extract operation", c.Operation)
		}
	}
	if c.PKChunkSize < 0 {
		return fmt.Errorf("chunk size cannot be negative")
	}
	return nil
}

type createQueryBody struct {
	Operation       string `json:"operation"`
	Query           string `json:"query"`
	ContentType     string `json:"contentType"`
	LineEnding      string `json:"lineEnding"`
	ColumnDelimiter string `json:"columnDelimiter"`
	PKChunking      string `json:"pkChunking,omitempty"`
}

// CreateQueryJob starts a new extract job. When chunking was requested the
// returned handle lists the IDs of the chunk jobs in partition order.
func (c *Client) CreateQueryJob(ctx context.Context, cfg QueryConfig) (*BulkJob, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var op = cfg.Operation
	if op == "" {
		op = OpQuery
	}
	var body = createQueryBody{
		Operation:       string(op),
		Query:           cfg.Query,
		ContentType:     "CSV",
		LineEnding:      "LF",
		ColumnDelimiter: "COMMA",
	}
	if cfg.PKChunkSize > 0 {
		body.PKChunking = fmt.Sprintf("chunkSize=%d", cfg.PKChunkSize)
	}

	var job BulkJob
	_, err := c.send(ctx, "create query job", "", func() (*resty.Response, error) {
		return c.baseReq(ctx).
			SetContentType("application/json").
			SetBody(body).
			SetResult(&job).
			Post("/jobs/query")
	})
	if err != nil {
		return nil, err
	}
	job.Kind = KindQuery

	log.WithFields(log.Fields{
		"job":       job.ID,
		"operation": op,
		"chunks":    len(job.ChildJobIDs),
	}).Info("created query job")
	return &job, nil
}

// ResultsPage fetches one page of a finished extract job's result set. An
// empty locator means the first page; the returned batch's NextLocator is
// empty once the last page has been read.
func (c *Client) ResultsPage(ctx context.Context, job *BulkJob, locator string, maxRecords int) (*ResultBatch, error) {
	if job.State != StateJobComplete {
		return nil, &StateError{Op: "fetch results", JobID: job.ID, State: job.State}
	}

	got, err := c.send(ctx, "fetch results", job.ID, func() (*resty.Response, error) {
		var req = c.baseReq(ctx).SetHeader("Accept", "text/csv")
		if locator != "" {
			req.SetQueryParam("locator", locator)
		}
		if maxRecords > 0 {
			req.SetQueryParam("maxRecords", strconv.Itoa(maxRecords))
		}
		return req.Get(jobPath(job.Kind, job.ID) + "/results")
	})
	if err != nil {
		return nil, err
	}

	// The service reports "null" in place of omitting the header on some
	// API versions, both mean the result set is exhausted.
	var next = got.Header().Get("Sforce-Locator")
	if next == "null" {
		next = ""
	}
	var records, _ = strconv.Atoi(got.Header().Get("Sforce-NumberOfRecords"))

	return &ResultBatch{
		Content:     got.Bytes(),
		First:       locator == "",
		NextLocator: next,
		Records:     records,
	}, nil
}

// ExportStats summarizes one completed extract.
type ExportStats struct {
	Pages int
	Rows  int
}

// Export walks a finished extract job's pages in locator order, writing the
// header row once and every page's data rows to w.
func (c *Client) Export(ctx context.Context, job *BulkJob, w io.Writer, maxRecords int) (ExportStats, error) {
	return c.exportPages(ctx, job, w, maxRecords, true)
}
