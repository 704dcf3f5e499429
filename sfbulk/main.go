package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	cerrors "github.com/meridiandata/sfconnect/go/connector-errors"
)

var (
	Version   string = "unknown"
	BuildDate string = "unknown"
)

func main() {
	var parser = flags.NewParser(nil, flags.Default)
	var ctx, _ = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	_ = addCmd(parser.Command, "version", "version",
		"Print version", &versionCmd{})

	_ = addCmd(parser.Command, "convert", "convert a master export",
		"Convert a legacy master export into a load-ready CSV", &convertCmd{})

	_ = addCmd(parser.Command, "ingest", "load records",
		"Convert and load a master export as a bulk job", &ingestCmd{ctx: ctx})

	_ = addCmd(parser.Command, "export", "extract records",
		"Extract records with a bulk query job", &exportCmd{ctx: ctx})

	var jobCmd = addCmd(parser.Command, "job", "manage jobs",
		"Inspect and manage bulk jobs", &struct{}{})
	_ = addCmd(jobCmd, "status", "job status",
		"Show the current state of a job", &jobStatusCmd{ctx: ctx})
	_ = addCmd(jobCmd, "abort", "abort a job",
		"Abort a running job", &jobAbortCmd{ctx: ctx})
	_ = addCmd(jobCmd, "delete", "delete a job",
		"Delete a finished job and its retained results", &jobDeleteCmd{ctx: ctx})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		cerrors.HandleFinalError(err)
	}
}

type versionCmd struct{}

// Execute displays the version and exits.
func (versionCmd) Execute(_ []string) error {
	fmt.Printf("%s - %s\n", Version, BuildDate)
	return nil
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		panic(err)
	}
	return cmd
}
