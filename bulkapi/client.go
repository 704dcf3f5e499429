package bulkapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
	"resty.dev/v3"
)

const (
	// DefaultAPIVersion is used when the config leaves the version blank.
	DefaultAPIVersion = "62.0"

	defaultMaxAttempts       = 5
	defaultRequestsPerSecond = 5

	retryInitialBackoff = 500 * time.Millisecond
	retryMaxBackoff     = 30 * time.Second
)

// Config holds the connection settings for one org. The HTTP client is
// expected to attach authentication itself, typically via an OAuth2
// client-credentials transport.
type Config struct {
	InstanceURL string
	APIVersion  string

	// MaxAttempts bounds retries of throttled or transient-failing requests.
	// Zero picks the default.
	MaxAttempts int
	// RequestsPerSecond paces outgoing API calls. Zero picks the default.
	RequestsPerSecond float64

	HTTPClient *http.Client
}

func (c Config) Validate() error {
	if c.InstanceURL == "" {
		return fmt.Errorf("missing instance URL")
	} else if !strings.HasPrefix(c.InstanceURL, "http://") && !strings.HasPrefix(c.InstanceURL, "https://") {
		return fmt.Errorf("instance URL %q must include a scheme", c.InstanceURL)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("maxAttempts cannot be negative")
	}
	return nil
}

// Client drives bulk jobs against one org. It is stateless apart from
// request pacing; all job state lives in BulkJob handles and on the server.
type Client struct {
	r           *resty.Client
	limiter     *rate.Limiter
	maxAttempts int
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version := strings.TrimPrefix(cfg.APIVersion, "v")
	if version == "" {
		version = DefaultAPIVersion
	}

	var r *resty.Client
	if cfg.HTTPClient != nil {
		r = resty.NewWithClient(cfg.HTTPClient)
	} else {
		r = resty.New()
	}
	r.SetBaseURL(strings.TrimSuffix(cfg.InstanceURL, "/") + "/services/data/v" + version)

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = defaultMaxAttempts
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		r:           r,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxAttempts: attempts,
	}, nil
}

func (c *Client) baseReq(ctx context.Context) *resty.Request {
	return c.r.
		NewRequest().
		WithContext(ctx).
		SetHeader("Accept", "application/json")
}

// send issues a request built by fn, pacing calls through the rate limiter
// and retrying throttled responses, transient service failures, and dropped
// connections with capped exponential backoff. Every other failure
// propagates unmodified.
func (c *Client) send(ctx context.Context, op, jobID string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	backoff := retryInitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		got, err := fn()
		if err != nil {
			if ctx.Err() != nil || !transientNetworkError(err) {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			lastErr = fmt.Errorf("%s: %w", op, err)
			log.WithFields(log.Fields{
				"op":      op,
				"job":     jobID,
				"error":   err.Error(),
				"attempt": attempt,
				"delay":   backoff.String(),
			}).Warn("network error (will retry)")
		} else {
			if got.IsSuccess() {
				return got, nil
			}

			err = classify(op, jobID, got.StatusCode(), got.Bytes())
			if !retryable(err) {
				return nil, err
			}
			lastErr = err

			log.WithFields(log.Fields{
				"op":      op,
				"job":     jobID,
				"status":  got.StatusCode(),
				"attempt": attempt,
				"delay":   backoff.String(),
			}).Warn("request throttled or failed transiently (will retry)")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, retryMaxBackoff)
	}

	return nil, lastErr
}

// transientNetworkError reports whether a transport-level failure is worth
// another attempt: dropped or reset connections and truncated responses.
// Context expiry also satisfies net.Error, so callers must check ctx first.
func transientNetworkError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func jobPath(kind JobKind, id string) string {
	return fmt.Sprintf("/jobs/%s/%s", kind, id)
}

// JobStatus re-reads a job from the service.
func (c *Client) JobStatus(ctx context.Context, kind JobKind, id string) (*BulkJob, error) {
	var job BulkJob
	_, err := c.send(ctx, "get job", id, func() (*resty.Response, error) {
		return c.baseReq(ctx).SetResult(&job).Get(jobPath(kind, id))
	})
	if err != nil {
		return nil, err
	}
	job.Kind = kind
	return &job, nil
}

// Abort asks the service to stop a running job. Aborting a terminal job is a
// usage error.
func (c *Client) Abort(ctx context.Context, job *BulkJob) error {
	if job.State.Terminal() {
		return &StateError{Op: "abort job", JobID: job.ID, State: job.State}
	}

	var updated BulkJob
	_, err := c.send(ctx, "abort job", job.ID, func() (*resty.Response, error) {
		return c.baseReq(ctx).
			SetContentType("application/json").
			SetBody(map[string]string{"state": string(StateAborted)}).
			SetResult(&updated).
			Patch(jobPath(job.Kind, job.ID))
	})
	if err != nil {
		return err
	}
	job.update(&updated)

	log.WithFields(log.Fields{"job": job.ID, "state": job.State}).Info("aborted job")
	return nil
}

// Delete removes a terminal job and its retained results from the service.
func (c *Client) Delete(ctx context.Context, job *BulkJob) error {
	if !job.State.Terminal() {
		return &StateError{Op: "delete job", JobID: job.ID, State: job.State}
	}

	_, err := c.send(ctx, "delete job", job.ID, func() (*resty.Response, error) {
		return c.baseReq(ctx).Delete(jobPath(job.Kind, job.ID))
	})
	if err != nil {
		return err
	}

	log.WithField("job", job.ID).Info("deleted job")
	return nil
}

// DescribeFields returns the set of field API names defined on an object,
// always including Id.
func (c *Client) DescribeFields(ctx context.Context, object string) (map[string]bool, error) {
	got, err := c.send(ctx, "describe object", "", func() (*resty.Response, error) {
		return c.baseReq(ctx).Get("/sobjects/" + object + "/describe")
	})
	if err != nil {
		return nil, err
	}

	fields := map[string]bool{"Id": true}
	for _, name := range gjson.GetBytes(got.Bytes(), "fields.#.name").Array() {
		fields[name.String()] = true
	}
	return fields, nil
}
