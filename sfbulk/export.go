package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/meridiandata/sfconnect/bulkapi"
	"github.com/meridiandata/sfconnect/filesink"
	cerrors "github.com/meridiandata/sfconnect/go/connector-errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type exportCmd struct {
	Query     string `long:"query" short:"q" description:"SOQL query to run"`
	Spec      string `long:"spec" short:"s" description:"Export spec file to build the query from"`
	Operation string `long:"operation" default:"query" choice:"query" choice:"queryAll" description:"Include deleted and archived records with queryAll"`
	Output    string `long:"output" short:"o" description:"Output file name, defaults to <object>_<timestamp>.csv"`
	OutputDir string `long:"output-dir" default:"output" description:"Directory receiving the output file"`

	MaxRecords int  `long:"max-records" default:"50000" description:"Page size for fetching results"`
	ChunkSize  int  `long:"chunk-size" description:"Split the extract into primary-key ranges of this many records"`
	Gzip       bool `long:"gzip" description:"Compress the output"`

	serviceOptions

	ctx context.Context
}

// exportSpec describes a query to build: the object, the fields wanted, and
// optional filtering. Fields the object does not actually have are dropped
// with a warning rather than failing the whole export.
type exportSpec struct {
	Object  string   `yaml:"object"`
	Fields  []string `yaml:"fields"`
	Where   string   `yaml:"where,omitempty"`
	OrderBy string   `yaml:"order_by,omitempty"`
	Limit   int      `yaml:"limit,omitempty"`
}

func (s *exportSpec) Validate() error {
	if s.Object == "" {
		return fmt.Errorf("missing object")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("fields must list at least one field")
	}
	return nil
}

func (c *exportCmd) Execute(_ []string) error {
	pol, err := c.pollPolicy()
	if err != nil {
		return err
	}
	if (c.Query == "") == (c.Spec == "") {
		return fmt.Errorf("exactly one of --query or --spec must be given")
	}

	client, err := c.connect(c.ctx)
	if err != nil {
		return err
	}

	var query = c.Query
	var object string
	if c.Spec != "" {
		if query, object, err = c.buildQuery(client); err != nil {
			return err
		}
	} else {
		object = objectOfQuery(query)
	}

	job, err := client.CreateQueryJob(c.ctx, bulkapi.QueryConfig{
		Query:       query,
		Operation:   bulkapi.Operation(c.Operation),
		PKChunkSize: c.ChunkSize,
	})
	if err != nil {
		return err
	}

	store, err := filesink.NewDirStore(c.OutputDir)
	if err != nil {
		return err
	}
	var key = c.outputKey(object)

	// Stream results straight into the store while they download.
	r, w := io.Pipe()
	group, groupCtx := errgroup.WithContext(c.ctx)
	group.Go(func() error {
		if err := store.PutStream(groupCtx, r, key); err != nil {
			r.CloseWithError(err)
			return fmt.Errorf("writing output: %w", err)
		}
		return nil
	})

	var sink io.Writer = w
	var gz *pgzip.Writer
	if c.Gzip {
		gz = pgzip.NewWriter(w)
		sink = gz
	}

	stats, exportErr := client.ExportChunked(groupCtx, job, sink, pol, c.PollBudget, c.MaxRecords)
	if exportErr == nil && gz != nil {
		exportErr = gz.Close()
	}
	w.CloseWithError(exportErr)

	if err := group.Wait(); err != nil && exportErr == nil {
		exportErr = err
	}
	if exportErr != nil {
		// Drop the partial file, a truncated extract must not look complete.
		os.Remove(store.Path(key))
		var partial *bulkapi.PartialChunkFailureError
		if errors.As(exportErr, &partial) {
			return cerrors.NewUserError(exportErr, fmt.Sprintf(
				"export job %s failed for %d of its chunks, no output was written", job.ID, len(partial.Failed)))
		}
		return exportErr
	}

	log.WithFields(log.Fields{
		"job":   job.ID,
		"rows":  stats.Rows,
		"pages": stats.Pages,
		"path":  store.Path(key),
	}).Info("export complete")
	return nil
}

// buildQuery assembles a SOQL statement from the spec file, keeping only
// fields the object actually has.
func (c *exportCmd) buildQuery(client *bulkapi.Client) (query, object string, err error) {
	raw, err := os.ReadFile(c.Spec)
	if err != nil {
		return "", "", fmt.Errorf("reading export spec: %w", err)
	}
	var spec exportSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return "", "", fmt.Errorf("parsing export spec %q: %w", c.Spec, err)
	}
	if err := spec.Validate(); err != nil {
		return "", "", fmt.Errorf("invalid export spec %q: %w", c.Spec, err)
	}

	known, err := client.DescribeFields(c.ctx, spec.Object)
	if err != nil {
		return "", "", err
	}

	// Id always leads the select list; requested fields follow in order,
	// deduplicated, minus any the object does not actually have.
	var fields = []string{"Id"}
	var seen = map[string]bool{"Id": true}
	for _, f := range spec.Fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		if !known[f] {
			log.WithFields(log.Fields{"object": spec.Object, "field": f}).Warn("skipping unknown field")
			continue
		}
		fields = append(fields, f)
	}
	if len(fields) == 1 && len(spec.Fields) > 0 {
		return "", "", fmt.Errorf("object %s has none of the requested fields", spec.Object)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(fields, ", "), spec.Object)
	if spec.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", spec.Where)
	}
	if spec.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s", spec.OrderBy)
	}
	if spec.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", spec.Limit)
	}
	return b.String(), spec.Object, nil
}

func (c *exportCmd) outputKey(object string) string {
	if c.Output != "" {
		return c.Output
	}
	if object == "" {
		object = "export"
	}
	var key = fmt.Sprintf("%s_%s.csv", object, time.Now().Format("20060102_150405"))
	if c.Gzip {
		key += ".gz"
	}
	return key
}

// objectOfQuery pulls the object name out of a SOQL statement for use in the
// default output name. Best effort only.
func objectOfQuery(query string) string {
	var tokens = strings.Fields(query)
	for i, tok := range tokens {
		if strings.EqualFold(tok, "FROM") && i+1 < len(tokens) {
			return tokens[i+1]
		}
	}
	return ""
}
