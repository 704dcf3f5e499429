package main

import (
	"context"
	"fmt"

	"github.com/meridiandata/sfconnect/bulkapi"
)

// jobOptions identify one job on the service.
type jobOptions struct {
	ID   string `long:"id" required:"true" description:"Job ID"`
	Type string `long:"type" default:"ingest" choice:"ingest" choice:"query" description:"Whether this is a load or an extract job"`
}

func (o jobOptions) kind() bulkapi.JobKind {
	if o.Type == "query" {
		return bulkapi.KindQuery
	}
	return bulkapi.KindIngest
}

type jobStatusCmd struct {
	jobOptions
	serviceOptions

	ctx context.Context
}

func (c *jobStatusCmd) Execute(_ []string) error {
	client, err := c.connect(c.ctx)
	if err != nil {
		return err
	}

	job, err := client.JobStatus(c.ctx, c.kind(), c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("job:       %s\n", job.ID)
	fmt.Printf("object:    %s\n", job.Object)
	fmt.Printf("operation: %s\n", job.Operation)
	fmt.Printf("state:     %s\n", job.State)
	fmt.Printf("processed: %d\n", job.RecordsProcessed)
	fmt.Printf("failed:    %d\n", job.RecordsFailed)
	return nil
}

type jobAbortCmd struct {
	jobOptions
	serviceOptions

	ctx context.Context
}

func (c *jobAbortCmd) Execute(_ []string) error {
	client, err := c.connect(c.ctx)
	if err != nil {
		return err
	}

	job, err := client.JobStatus(c.ctx, c.kind(), c.ID)
	if err != nil {
		return err
	}
	return client.Abort(c.ctx, job)
}

type jobDeleteCmd struct {
	jobOptions
	serviceOptions

	ctx context.Context
}

func (c *jobDeleteCmd) Execute(_ []string) error {
	client, err := c.connect(c.ctx)
	if err != nil {
		return err
	}

	job, err := client.JobStatus(c.ctx, c.kind(), c.ID)
	if err != nil {
		return err
	}
	return client.Delete(c.ctx, job)
}
