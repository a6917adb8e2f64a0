package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads artifacts from a locally mounted filesystem (local disk or NFS).
type FileFetcher struct {
	// Root prefixes relative paths. Absolute paths are used as-is.
	Root string
}

func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{Root: root}
}

func (f *FileFetcher) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	path = strings.TrimPrefix(path, "file://")
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return file, info.Size(), nil
}
