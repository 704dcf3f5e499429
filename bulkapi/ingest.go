package bulkapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// IngestConfig describes a load job to be created.
type IngestConfig struct {
	Object    string
	Operation Operation
	// ExternalIDField is required for upserts and forbidden otherwise.
	ExternalIDField string
}

func (c IngestConfig) Validate() error {
	if c.Object == "" {
		return fmt.Errorf("missing object name")
	}
	if err := c.Operation.validate(); err != nil {
		return err
	}
	if c.Operation.Kind() != KindIngest {
		return fmt.Errorf("operation %q is not a load operation", c.Operation)
	}
	if c.Operation == OpUpsert && c.ExternalIDField == "" {
		return fmt.Errorf("upsert requires an external ID field")
	}
	if c.Operation != OpUpsert && c.ExternalIDField != "" {
		return fmt.Errorf("external ID field is only valid for upsert")
	}
	return nil
}

type createIngestBody struct {
	Object          string `json:"object"`
	Operation       string `json:"operation"`
	ContentType     string `json:"contentType"`
	LineEnding      string `json:"lineEnding"`
	ColumnDelimiter string `json:"columnDelimiter"`
	ExternalIDField string `json:"externalIdFieldName,omitempty"`
}

// CreateIngestJob opens a new load job. The returned handle starts in the
// Open state and is ready to receive batch data.
func (c *Client) CreateIngestJob(ctx context.Context, cfg IngestConfig) (*BulkJob, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var job BulkJob
	_, err := c.send(ctx, "create ingest job", "", func() (*resty.Response, error) {
		return c.baseReq(ctx).
			SetContentType("application/json").
			SetBody(createIngestBody{
				Object:          cfg.Object,
				Operation:       string(cfg.Operation),
				ContentType:     "CSV",
				LineEnding:      "LF",
				ColumnDelimiter: "COMMA",
				ExternalIDField: cfg.ExternalIDField,
			}).
			SetResult(&job).
			Post("/jobs/ingest")
	})
	if err != nil {
		return nil, err
	}
	job.Kind = KindIngest

	log.WithFields(log.Fields{
		"job":       job.ID,
		"object":    cfg.Object,
		"operation": cfg.Operation,
	}).Info("created ingest job")
	return &job, nil
}

// UploadBatch sends one CSV batch, header row included, to an open job.
func (c *Client) UploadBatch(ctx context.Context, job *BulkJob, data []byte) error {
	if job.State != StateOpen {
		return &StateError{Op: "upload batch", JobID: job.ID, State: job.State}
	}

	_, err := c.send(ctx, "upload batch", job.ID, func() (*resty.Response, error) {
		return c.baseReq(ctx).
			SetContentType("text/csv").
			SetBody(data).
			Put(jobPath(job.Kind, job.ID) + "/batches")
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"job": job.ID, "bytes": len(data)}).Info("uploaded batch")
	return nil
}

// CloseJob marks the upload phase finished so the service starts processing.
// Closing an already-closed job is a no-op.
func (c *Client) CloseJob(ctx context.Context, job *BulkJob) error {
	switch job.State {
	case StateOpen:
	case StateUploadComplete:
		return nil
	default:
		return &StateError{Op: "close job", JobID: job.ID, State: job.State}
	}

	var updated BulkJob
	_, err := c.send(ctx, "close job", job.ID, func() (*resty.Response, error) {
		return c.baseReq(ctx).
			SetContentType("application/json").
			SetBody(map[string]string{"state": string(StateUploadComplete)}).
			SetResult(&updated).
			Patch(jobPath(job.Kind, job.ID))
	})
	if err != nil {
		return err
	}
	job.update(&updated)

	log.WithField("job", job.ID).Info("closed job for processing")
	return nil
}

// IngestOutcome is the per-record disposition of a finished load job.
type IngestOutcome struct {
	// ID is the record's ID, when the service assigned or matched one.
	ID      string
	Created bool
	Success bool
	// Code and Message describe the failure for unsuccessful records.
	Code    string
	Message string
	// Fields holds the submitted record columns by header name.
	Fields map[string]string
}

// ResultKind selects which per-record result set of a load job to fetch.
type ResultKind string

const (
	SuccessfulResults ResultKind = "successfulResults"
	FailedResults     ResultKind = "failedResults"
)

// IngestResults fetches a raw per-record result CSV for a finished load job.
func (c *Client) IngestResults(ctx context.Context, job *BulkJob, kind ResultKind) ([]byte, error) {
	if job.State != StateJobComplete {
		return nil, &StateError{Op: "fetch " + string(kind), JobID: job.ID, State: job.State}
	}

	got, err := c.send(ctx, "fetch "+string(kind), job.ID, func() (*resty.Response, error) {
		return c.baseReq(ctx).
			SetHeader("Accept", "text/csv").
			Get(jobPath(job.Kind, job.ID) + "/" + string(kind))
	})
	if err != nil {
		return nil, err
	}
	return got.Bytes(), nil
}

// ParseOutcomes decodes a result CSV into per-record outcomes.
func ParseOutcomes(content []byte, success bool) ([]IngestOutcome, error) {
	rd := csv.NewReader(bytes.NewReader(content))
	rd.FieldsPerRecord = -1

	header, err := rd.Read()
	if err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading result header: %w", err)
	}

	var outcomes []IngestOutcome
	for line := 2; ; line++ {
		row, err := rd.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("reading result row at line %d: %w", line, err)
		}

		var out = IngestOutcome{Success: success, Fields: make(map[string]string)}
		for i, col := range header {
			if i >= len(row) {
				break
			}
			switch col {
			case "sf__Id":
				out.ID = row[i]
			case "sf__Created":
				out.Created = strings.EqualFold(row[i], "true")
			case "sf__Error":
				out.Code, out.Message, _ = strings.Cut(row[i], ":")
			default:
				out.Fields[col] = row[i]
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// IngestReport holds both result sets of a finished load job, raw and
// decoded.
type IngestReport struct {
	SuccessCSV []byte
	ErrorCSV   []byte
	Succeeded  []IngestOutcome
	Failed     []IngestOutcome
}

// Outcomes fetches and decodes both result sets of a finished load job, and
// cross-checks their cardinality against the job's reported record counts.
func (c *Client) Outcomes(ctx context.Context, job *BulkJob) (*IngestReport, error) {
	var report IngestReport
	var err error

	if report.SuccessCSV, err = c.IngestResults(ctx, job, SuccessfulResults); err != nil {
		return nil, err
	}
	if report.ErrorCSV, err = c.IngestResults(ctx, job, FailedResults); err != nil {
		return nil, err
	}

	if report.Succeeded, err = ParseOutcomes(report.SuccessCSV, true); err != nil {
		return nil, err
	}
	if report.Failed, err = ParseOutcomes(report.ErrorCSV, false); err != nil {
		return nil, err
	}

	if total := int64(len(report.Succeeded) + len(report.Failed)); total != job.RecordsProcessed {
		return nil, &ConsistencyError{
			JobID:     job.ID,
			Processed: job.RecordsProcessed,
			Succeeded: int64(len(report.Succeeded)),
			Failed:    int64(len(report.Failed)),
		}
	}
	return &report, nil
}
