package artifact

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"buildstate/internal/store"
	"buildstate/internal/tracker"
)

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
}

// Checksum returns "<algorithm>:<hex>" for the contents of r.
func Checksum(r io.Reader, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return algorithm + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Result describes a verified retrieval.
type Result struct {
	Path     string
	Size     int64
	Checksum string
}

// Retriever fetches artifacts through a Registry and verifies them.
type Retriever struct {
	registry *Registry
	logger   *slog.Logger
}

func NewRetriever(registry *Registry, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{registry: registry, logger: logger}
}

// Retrieve downloads a to dest. Content is staged in dest+".partial" and only
// renamed into place once the size and checksum match the record. A checksum
// mismatch returns a tracker error of kind checksum_mismatch and leaves
// nothing at dest.
func (r *Retriever) Retrieve(ctx context.Context, a *store.Artifact, dest string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	partial := dest + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", partial, err)
	}

	res, err := r.copyVerified(ctx, a, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", partial, cerr)
	}
	if err != nil {
		os.Remove(partial)
		return nil, err
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("failed to move artifact into place: %w", err)
	}
	res.Path = dest

	r.logger.InfoContext(ctx, "artifact retrieved",
		"build_id", a.BuildID, "checkpoint", a.Checkpoint, "path", dest, "size", res.Size)
	return res, nil
}

// Verify streams a without keeping it and checks it against the record.
func (r *Retriever) Verify(ctx context.Context, a *store.Artifact) (*Result, error) {
	return r.copyVerified(ctx, a, io.Discard)
}

func (r *Retriever) copyVerified(ctx context.Context, a *store.Artifact, w io.Writer) (*Result, error) {
	f, err := r.registry.Fetcher(a.StorageType)
	if err != nil {
		return nil, err
	}

	body, length, err := f.Open(ctx, a.StoragePath)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	algorithm := "sha256"
	var expected string
	if a.Checksum != nil && *a.Checksum != "" {
		normalized, ok := tracker.NormalizeChecksum(*a.Checksum)
		if !ok {
			return nil, fmt.Errorf("artifact %s has malformed checksum %q", a.ID, *a.Checksum)
		}
		expected = normalized
		algorithm, _, _ = strings.Cut(normalized, ":")
	}

	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}

	n, err := io.Copy(io.MultiWriter(w, h), body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	if length >= 0 && n != length {
		return nil, fmt.Errorf("short read: got %d of %d bytes", n, length)
	}
	if a.SizeBytes != nil && n != *a.SizeBytes {
		return nil, fmt.Errorf("size mismatch: registered %d bytes, retrieved %d", *a.SizeBytes, n)
	}

	actual := algorithm + ":" + hex.EncodeToString(h.Sum(nil))
	if expected != "" && actual != expected {
		r.logger.WarnContext(ctx, "artifact checksum mismatch",
			"build_id", a.BuildID, "checkpoint", a.Checkpoint, "expected", expected, "actual", actual)
		return nil, tracker.ChecksumMismatch(a.BuildID, a.Checkpoint, expected, actual)
	}

	return &Result{Size: n, Checksum: actual}, nil
}
