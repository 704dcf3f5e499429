package filesink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DirStore writes objects as files under a root directory. Files are staged
// under a unique temporary name and renamed into place on completion, so a
// partially written output is never visible under its final key.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %q: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) PutStream(ctx context.Context, r io.Reader, key string) error {
	var dst = filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", key, err)
	}

	var tmp = dst + "." + uuid.NewString() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating staging file for %q: %w", key, err)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %q: %w", key, err)
	} else if err := f.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", key, err)
	} else if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("finalizing %q: %w", key, err)
	}

	log.WithField("path", dst).Info("wrote file")
	return nil
}

// Path returns the final on-disk location a key resolves to.
func (s *DirStore) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
