// Package blob stores opaque stage artifacts (raw HTML, screenshots, model
// output, export files) under per-stage buckets. The local store keeps the
// same interface a remote object store would so callers never branch.
package blob

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

// LocalStore is the filesystem-backed BlobStore. Layout is
// {base}/{bucket}/{key}, keys may contain slashes.
type LocalStore struct {
	base   string
	logger arbor.ILogger
}

// NewLocalStore creates the store rooted at base, creating bucket
// directories on first write.
func NewLocalStore(base string, logger arbor.ILogger) (*LocalStore, error) {
	if base == "" {
		return nil, models.ValidationError("blob store base directory is required")
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create blob store root: %v", models.ErrStorage, err)
	}
	return &LocalStore{base: base, logger: logger}, nil
}

// UploadBytes writes data under bucket/key, returning the absolute path.
func (s *LocalStore) UploadBytes(ctx context.Context, bucket, key string, data []byte) (string, error) {
	if err := validateKey(bucket, key); err != nil {
		return "", err
	}

	path := filepath.Join(s.base, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create blob directory: %v", models.ErrStorage, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("%w: failed to write blob %s/%s: %v", models.ErrStorage, bucket, key, err)
	}

	s.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Stored blob")
	return path, nil
}

// UploadText writes text under bucket/key.
func (s *LocalStore) UploadText(ctx context.Context, bucket, key, text string) (string, error) {
	return s.UploadBytes(ctx, bucket, key, []byte(text))
}

// List returns keys in a bucket with the given prefix, sorted.
func (s *LocalStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	root := filepath.Join(s.base, bucket)
	var keys []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list bucket %s: %v", models.ErrStorage, bucket, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes one blob. Deleting a missing blob is not an error.
func (s *LocalStore) Delete(ctx context.Context, bucket, key string) error {
	if err := validateKey(bucket, key); err != nil {
		return err
	}
	path := filepath.Join(s.base, bucket, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete blob %s/%s: %v", models.ErrStorage, bucket, key, err)
	}
	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases and squashes a free-form string into a key-safe token.
func Slug(s string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// Key builds the conventional artifact key
// {platform}/{YYYYMMDD}/{slug}_{timestamp}.{ext}.
func Key(platform, name, ext string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%d.%s",
		platform, at.UTC().Format("20060102"), Slug(name), at.UTC().Unix(), ext)
}

func validateKey(bucket, key string) error {
	if bucket == "" || key == "" {
		return models.ValidationError("blob bucket and key are required")
	}
	if strings.Contains(key, "..") {
		return models.ValidationError("blob key %q must not contain path traversal", key)
	}
	switch bucket {
	case interfaces.BucketRawData, interfaces.BucketAIProcessed,
		interfaces.BucketCleanedData, interfaces.BucketFinalData:
		return nil
	}
	return models.ValidationError("unknown blob bucket %q", bucket)
}
