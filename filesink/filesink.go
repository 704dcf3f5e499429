// Package filesink writes finished CSV outputs to a destination, streaming
// rows through an encoder so large extracts never need to be held in memory.
package filesink

import (
	"context"
	"io"
)

// Store represents a file/object storage system capable of put'ing a stream of data to a binary
// object with a specified key.
type Store interface {
	PutStream(ctx context.Context, r io.Reader, key string) error
}

// StreamEncoder encodes rows of data to a particular format, writing the result to a stream.
type StreamEncoder interface {
	Encode(row []string) error
	Written() int
	Close() error
}
