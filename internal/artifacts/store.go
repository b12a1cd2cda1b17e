// Package artifacts persists screenshots and reports produced by a run.
// Files always land in a local directory; an optional mirror copies them to
// object storage under a per-run key prefix.
package artifacts

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/obs"
)

// Artifact describes one persisted file.
type Artifact struct {
	Label string `json:"label"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	URL   string `json:"url,omitempty"`
	Bytes int    `json:"bytes"`
}

// Mirror uploads artifacts to remote storage. *s3client.Client satisfies it.
type Mirror interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	GetPublicURL(key string) string
}

// Store writes artifacts to a directory and optionally mirrors them.
type Store struct {
	dir    string
	mirror Mirror
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithMirror uploads every saved artifact to m under prefix/<run_id>/<name>.
func WithMirror(m Mirror, prefix string) Option {
	return func(s *Store) {
		s.mirror = m
		s.prefix = strings.Trim(prefix, "/")
	}
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the local artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data to <dir>/<name>, replacing any previous file.
// Mirror failures are logged and leave the local copy in place.
func (s *Store) Save(ctx context.Context, label, name string, data []byte) (Artifact, error) {
	if name == "" || name != filepath.Base(name) {
		return Artifact{}, errs.New(errs.InvalidArgument, fmt.Sprintf("invalid artifact name %q", name))
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Artifact{}, errs.Wrap(errs.Unavailable, "create artifact directory", err)
	}

	finalPath := filepath.Join(s.dir, name)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return Artifact{}, errs.Wrap(errs.Unavailable, "write "+name, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return Artifact{}, errs.Wrap(errs.Unavailable, "rename "+name, err)
	}

	art := Artifact{
		Label: label,
		Name:  name,
		Path:  finalPath,
		Bytes: len(data),
	}

	if s.mirror != nil {
		key := s.objectKey(ctx, name)
		if err := s.mirror.PutObject(ctx, key, data, contentTypeFor(name)); err != nil {
			obs.From(ctx).Warn("artifact_mirror_failed", "pkg", "artifacts", "key", key, "error", err)
		} else {
			art.URL = s.mirror.GetPublicURL(key)
		}
	}

	obs.From(ctx).Debug("artifact_saved", "pkg", "artifacts", "label", label, "path", finalPath, "bytes", len(data))
	return art, nil
}

func (s *Store) objectKey(ctx context.Context, name string) string {
	return path.Join(s.prefix, obs.RunIDFromContext(ctx), name)
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
