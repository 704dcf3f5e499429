package bulkapi

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meridiandata/sfconnect/go/schedule"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// chunkPollers bounds how many chunk jobs are polled concurrently.
const chunkPollers = 4

// ExportChunked waits for a created extract job and all of its chunk jobs to
// finish, then merges their result sets into w in the partition order the
// service listed them, with a single header row. If any chunk ends Failed or
// Aborted, nothing at all is written and a PartialChunkFailureError reports
// every failed chunk.
func (c *Client) ExportChunked(ctx context.Context, parent *BulkJob, w io.Writer, pol schedule.Policy, budget time.Duration, maxRecords int) (ExportStats, error) {
	// An unchunked job is just itself.
	if len(parent.ChildJobIDs) == 0 {
		if state, err := c.PollUntilDone(ctx, parent, pol, budget); err != nil {
			return ExportStats{}, err
		} else if state != StateJobComplete {
			return ExportStats{}, &StateError{Op: "export results", JobID: parent.ID, State: state}
		}
		return c.Export(ctx, parent, w, maxRecords)
	}

	var chunks = make([]*BulkJob, len(parent.ChildJobIDs))
	for i, id := range parent.ChildJobIDs {
		chunks[i] = &BulkJob{ID: id, Kind: KindQuery, State: StateInProgress}
	}

	// Wait on every chunk before deciding anything. A chunk that fails must
	// not cancel its siblings, since we need all terminal states to report
	// the full set of failures.
	var mu sync.Mutex
	var failed []ChunkFailure

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(chunkPollers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		group.Go(func() error {
			state, err := c.PollUntilDone(groupCtx, chunk, pol, budget)
			if err != nil {
				return fmt.Errorf("polling chunk %s of job %s: %w", chunk.ID, parent.ID, err)
			}
			if state != StateJobComplete {
				mu.Lock()
				failed = append(failed, ChunkFailure{JobID: chunk.ID, Position: i, State: state})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return ExportStats{}, err
	}
	if len(failed) > 0 {
		return ExportStats{}, &PartialChunkFailureError{ParentID: parent.ID, Failed: failed}
	}

	log.WithFields(log.Fields{
		"job":    parent.ID,
		"chunks": len(chunks),
	}).Info("all chunks complete, merging results")

	// Merge in listed order. Only the very first page of the first chunk
	// contributes its header row.
	var stats ExportStats
	for i, chunk := range chunks {
		got, err := c.exportPages(ctx, chunk, w, maxRecords, i == 0)
		if err != nil {
			return stats, err
		}
		stats.Pages += got.Pages
		stats.Rows += got.Rows
	}
	parent.State = StateJobComplete
	return stats, nil
}

// exportPages walks one job's result pages in locator order, stripping the
// repeated header from every page but optionally the first.
func (c *Client) exportPages(ctx context.Context, job *BulkJob, w io.Writer, maxRecords int, keepHeader bool) (ExportStats, error) {
	var stats ExportStats
	var locator string
	for {
		batch, err := c.ResultsPage(ctx, job, locator, maxRecords)
		if err != nil {
			return stats, err
		}

		var data = batch.Data()
		if batch.First && !keepHeader {
			data = stripHeaderLine(batch.Content)
		}
		if _, err := w.Write(data); err != nil {
			return stats, fmt.Errorf("writing results of job %s: %w", job.ID, err)
		}
		stats.Pages++
		stats.Rows += batch.Records

		if batch.NextLocator == "" {
			return stats, nil
		}
		locator = batch.NextLocator
	}
}
