package engine

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/roach88/smartview/internal/ir"
)

// SizeResolver resolves the size in bytes of the resource behind an item.
// Megabyte limits sum these sizes.
type SizeResolver interface {
	Size(c ir.Candidate) (int64, error)
}

// FileSizeResolver stats item resources on a filesystem.
//
// "file://" URIs are resolved to their path; bare relative paths are joined
// to the media root. Any other scheme is an error, so remote items count as
// zero toward a megabyte limit.
type FileSizeResolver struct {
	fs   afero.Fs
	root string
}

// NewFileSizeResolver creates a resolver over fs. Relative paths resolve
// against root.
func NewFileSizeResolver(fs afero.Fs, root string) *FileSizeResolver {
	return &FileSizeResolver{fs: fs, root: root}
}

// Size implements SizeResolver.
func (r *FileSizeResolver) Size(c ir.Candidate) (int64, error) {
	path, err := r.path(c.URI)
	if err != nil {
		return 0, err
	}
	fi, err := r.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat item %d: %w", c.ID, err)
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("item %d: %s is a directory", c.ID, path)
	}
	return fi.Size(), nil
}

func (r *FileSizeResolver) path(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("empty uri")
	}
	if !strings.Contains(uri, "://") {
		if filepath.IsAbs(uri) || r.root == "" {
			return filepath.Clean(uri), nil
		}
		return filepath.Join(r.root, uri), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}
