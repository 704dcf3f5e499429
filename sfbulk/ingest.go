package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/meridiandata/sfconnect/bulkapi"
	"github.com/meridiandata/sfconnect/convert"
	"github.com/meridiandata/sfconnect/filesink"
	cerrors "github.com/meridiandata/sfconnect/go/connector-errors"
	log "github.com/sirupsen/logrus"
)

type ingestCmd struct {
	Mapping   string `long:"mapping" short:"m" required:"true" description:"Mapping file describing the conversion and load job"`
	Input     string `long:"input" short:"i" required:"true" description:"File to load"`
	CSV       bool   `long:"csv" description:"Input is already a load-ready CSV, skip conversion"`
	OutputDir string `long:"output-dir" default:"output" description:"Directory receiving per-record result files"`
	Delete    bool   `long:"delete-job" description:"Delete the job from the service after fetching results"`

	serviceOptions

	ctx context.Context
}

func (c *ingestCmd) Execute(_ []string) error {
	var prereqs = new(cerrors.PrereqErr)

	pol, err := c.pollPolicy()
	if err != nil {
		prereqs.Err(err)
	}
	spec, err := convert.LoadSpec(c.Mapping)
	if err != nil {
		prereqs.Err(err)
	}
	if _, err := os.Stat(c.Input); err != nil {
		prereqs.Err(fmt.Errorf("input file: %w", err))
	}
	if prereqs.Len() > 0 {
		return prereqs
	}

	csvBytes, err := c.loadBatch(spec)
	if err != nil {
		return err
	}

	client, err := c.connect(c.ctx)
	if err != nil {
		return err
	}

	job, err := client.CreateIngestJob(c.ctx, bulkapi.IngestConfig{
		Object:          spec.SFObject,
		Operation:       bulkapi.Operation(spec.Operation),
		ExternalIDField: spec.ExternalIDField,
	})
	if err != nil {
		return err
	}

	if err := client.UploadBatch(c.ctx, job, csvBytes); err != nil {
		return err
	} else if err := client.CloseJob(c.ctx, job); err != nil {
		return err
	}

	state, err := client.PollUntilDone(c.ctx, job, pol, c.PollBudget)
	if err != nil {
		return err
	}
	if state != bulkapi.StateJobComplete {
		return fmt.Errorf("job %s ended in state %s", job.ID, state)
	}

	report, err := client.Outcomes(c.ctx, job)
	if err != nil {
		return err
	}

	store, err := filesink.NewDirStore(c.OutputDir)
	if err != nil {
		return err
	}
	if err := c.writeResults(store, spec, job, report); err != nil {
		return err
	}

	if c.Delete {
		if err := client.Delete(c.ctx, job); err != nil {
			return err
		}
	}

	if len(report.Failed) > 0 {
		log.WithFields(log.Fields{
			"job":       job.ID,
			"succeeded": len(report.Succeeded),
			"failed":    len(report.Failed),
		}).Warn("some records were rejected, see the error result file")
	} else {
		log.WithFields(log.Fields{
			"job":       job.ID,
			"succeeded": len(report.Succeeded),
		}).Info("all records loaded")
	}
	return nil
}

// loadBatch produces the CSV batch to upload, converting the legacy export
// unless the input is already load-ready.
func (c *ingestCmd) loadBatch(spec *convert.Spec) ([]byte, error) {
	if c.CSV {
		raw, err := os.ReadFile(c.Input)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		return raw, nil
	}

	in, err := os.Open(c.Input)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	var buf bytes.Buffer
	if _, err := convert.NewTransformer(spec).Convert(in, nopWriteCloser{&buf}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeResults writes the per-record result sets next to each other: the raw
// CSVs and spreadsheet-friendly mirrors with a byte order mark and CRLF rows.
func (c *ingestCmd) writeResults(store filesink.Store, spec *convert.Spec, job *bulkapi.BulkJob, report *bulkapi.IngestReport) error {
	var outputs = []struct {
		suffix string
		raw    []byte
		excel  bool
	}{
		{"success.csv", report.SuccessCSV, false},
		{"error.csv", report.ErrorCSV, false},
		{"success_excel.csv", report.SuccessCSV, true},
		{"error_excel.csv", report.ErrorCSV, true},
	}
	for _, out := range outputs {
		var key = fmt.Sprintf("%s_%s_%s", job.ID, spec.MasterKey, out.suffix)
		var content = out.raw
		if out.excel {
			var buf bytes.Buffer
			if err := filesink.SpreadsheetCopy(&buf, bytes.NewReader(out.raw)); err != nil {
				return fmt.Errorf("preparing %s: %w", key, err)
			}
			content = buf.Bytes()
		}
		if err := store.PutStream(c.ctx, bytes.NewReader(content), key); err != nil {
			return err
		}
	}
	return nil
}
