package bulkapi

import (
	"context"
	"time"

	"github.com/meridiandata/sfconnect/go/schedule"
	log "github.com/sirupsen/logrus"
)

// PollUntilDone refreshes a job on the policy's cadence until it reaches a
// terminal state, which is returned as a value so callers can distinguish
// completion from failure without losing the other. The budget bounds total
// waiting; past it a TimeoutError is returned carrying the last observed
// state, and the job itself keeps running server-side.
func (c *Client) PollUntilDone(ctx context.Context, job *BulkJob, pol schedule.Policy, budget time.Duration) (JobState, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var sched = pol.New([]byte(job.ID))
	for {
		refreshed, err := c.JobStatus(ctx, job.Kind, job.ID)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return job.State, &TimeoutError{JobID: job.ID, Budget: budget, LastState: job.State}
			}
			return job.State, err
		}
		job.update(refreshed)

		if job.State.Terminal() {
			return job.State, nil
		}

		log.WithFields(log.Fields{
			"job":       job.ID,
			"state":     job.State,
			"processed": job.RecordsProcessed,
			"failed":    job.RecordsFailed,
		}).Info("waiting for job to complete")

		if err := schedule.WaitForNext(ctx, sched, time.Now()); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return job.State, &TimeoutError{JobID: job.ID, Budget: budget, LastState: job.State}
			}
			return job.State, err
		}
	}
}
