package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meridiandata/sfconnect/convert"
	log "github.com/sirupsen/logrus"
)

type convertCmd struct {
	Mapping string `long:"mapping" short:"m" required:"true" description:"Mapping file describing the conversion"`
	Input   string `long:"input" short:"i" required:"true" description:"Legacy master export to convert"`
	Output  string `long:"output" short:"o" description:"Destination path, overriding the mapping file's output_csv"`

	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (c *convertCmd) Execute(_ []string) error {
	c.Log.Setup()

	spec, err := convert.LoadSpec(c.Mapping)
	if err != nil {
		return err
	}

	var dst = spec.OutputPath()
	if c.Output != "" {
		dst = c.Output
	}

	rows, err := convertFile(spec, c.Input, dst)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"rows": rows, "output": dst}).Info("conversion complete")
	return nil
}

// convertFile runs one conversion from an input file to an output file,
// creating the output's directory as needed.
func convertFile(spec *convert.Spec, input, output string) (int, error) {
	in, err := os.Open(input)
	if err != nil {
		return 0, fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating output directory: %w", err)
		}
	}
	out, err := os.Create(output)
	if err != nil {
		return 0, fmt.Errorf("creating output: %w", err)
	}

	rows, err := convert.NewTransformer(spec).Convert(in, out)
	if err != nil {
		out.Close()
		os.Remove(output)
		return 0, err
	}
	return rows, nil
}
