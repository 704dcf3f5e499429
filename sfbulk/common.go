package main

import (
	"context"
	"io"
	"time"

	"github.com/meridiandata/sfconnect/bulkapi"
	"github.com/meridiandata/sfconnect/go/auth/salesforce"
	"github.com/meridiandata/sfconnect/go/schedule"
	log "github.com/sirupsen/logrus"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

func (c LogConfig) Setup() {
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if c.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if c.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(c.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

// serviceOptions are the connection and polling flags shared by every
// command that talks to the API. Credentials come from the environment,
// optionally seeded from an env file.
type serviceOptions struct {
	APIVersion        string        `long:"api-version" default:"62.0" description:"API version to target"`
	PollInterval      time.Duration `long:"poll-interval" default:"5s" description:"Initial delay between job status polls"`
	PollMaxInterval   time.Duration `long:"poll-max-interval" default:"30s" description:"Upper bound on the growing poll delay"`
	PollBudget        time.Duration `long:"poll-budget" default:"10m" description:"Total time to wait for a job before giving up"`
	RequestsPerSecond float64       `long:"requests-per-second" default:"5" description:"Upper bound on outgoing API calls"`

	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (o *serviceOptions) pollPolicy() (schedule.Policy, error) {
	var pol = schedule.Policy{Interval: o.PollInterval, MaxInterval: o.PollMaxInterval}
	if err := pol.Validate(); err != nil {
		return schedule.Policy{}, err
	}
	return pol, nil
}

func (o *serviceOptions) connect(ctx context.Context) (*bulkapi.Client, error) {
	o.Log.Setup()

	creds, err := salesforce.FromEnv()
	if err != nil {
		return nil, err
	}

	httpClient, instanceURL, err := creds.Connect(ctx)
	if err != nil {
		return nil, err
	}

	return bulkapi.NewClient(bulkapi.Config{
		InstanceURL:       instanceURL,
		APIVersion:        o.APIVersion,
		RequestsPerSecond: o.RequestsPerSecond,
		HTTPClient:        httpClient,
	})
}
