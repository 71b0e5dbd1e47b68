package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store puts an object and returns the URL it is served from.
type Store interface {
	Put(ctx context.Context, bucket, name string, data []byte, mime string) (string, error)
}

// Local keeps objects under baseDir/<bucket>/<name> and serves them below
// publicBase.
type Local struct {
	baseDir    string
	publicBase string
}

func NewLocal(baseDir, publicBase string) *Local {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if publicBase == "" {
		publicBase = "/static/uploads"
	}
	return &Local{baseDir: baseDir, publicBase: strings.TrimRight(publicBase, "/")}
}

func (l *Local) BaseDir() string { return l.baseDir }

func (l *Local) Put(ctx context.Context, bucket, name string, data []byte, _ string) (string, error) {
	rel, err := objectPath(bucket, name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	abs := filepath.Join(l.baseDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- writeFile(abs, data) }()
	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
	case <-ctx.Done():
		// the write finishes in the background; drop the partial object
		go func() {
			if <-done == nil {
				_ = os.Remove(abs)
			}
		}()
		return "", ctx.Err()
	}
	return l.publicBase + "/" + rel, nil
}

// Remove deletes an object previously stored with Put.
func (l *Local) Remove(bucket, name string) error {
	rel, err := objectPath(bucket, name)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(l.baseDir, filepath.FromSlash(rel)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func writeFile(abs string, data []byte) error {
	tmp := abs + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

func objectPath(bucket, name string) (string, error) {
	rel := path.Clean(path.Join(bucket, name))
	if bucket == "" || name == "" || rel == "." || strings.HasPrefix(rel, "..") || path.IsAbs(rel) || !strings.HasPrefix(rel, path.Clean(bucket)+"/") {
		return "", fmt.Errorf("invalid object path %q/%q", bucket, name)
	}
	return rel, nil
}
