// Package modelcache maps model identifiers to downloaded artifacts on disk.
// Directories are keyed by the normalized model name; writes go to a hidden
// temp directory and are published by rename, so readers never observe a
// partially written artifact.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/cklxx/tunehub/internal/engine"
	"github.com/cklxx/tunehub/pkg/models"
)

var ErrNotFound = errors.New("model not in cache")

// Manager owns the cache root directory. Safe for concurrent use: writes to
// the same model key coalesce through singleflight, and publication is a
// single rename.
type Manager struct {
	root       string
	downloader engine.ModelDownloader
	group      singleflight.Group
}

// New creates the cache root if needed and returns a Manager.
func New(root string, downloader engine.ModelDownloader) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Manager{root: root, downloader: downloader}, nil
}

// Root returns the cache root directory.
func (m *Manager) Root() string { return m.root }

// EnsureCached returns the on-disk location of modelName's artifact,
// downloading it first when absent or when force is set. Concurrent calls
// for the same model share one download. Download and publish happen in a
// temp directory followed by a rename; with force, the previous artifact is
// deleted only after the replacement is published.
func (m *Manager) EnsureCached(ctx context.Context, modelName string, force bool, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (string, error) {
	key, err := cacheKey(modelName)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(m.root, key)

	if !force && dirExists(dest) {
		return dest, nil
	}

	path, err, _ := m.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// materialized the artifact while we waited.
		if !force && dirExists(dest) {
			return dest, nil
		}

		tmp, err := os.MkdirTemp(m.root, ".download-"+key+"-")
		if err != nil {
			return "", fmt.Errorf("create staging dir: %w", err)
		}
		defer os.RemoveAll(tmp)

		if err := m.downloader.DownloadModel(ctx, modelName, tmp, progress, shouldCancel); err != nil {
			return "", err
		}

		return dest, m.publish(tmp, dest, force)
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}

// publish moves the staged download into place. When replacing, the old
// directory is set aside first and removed only after the rename succeeds,
// so there is no window where the key resolves to nothing.
func (m *Manager) publish(staged, dest string, replace bool) error {
	var aside string
	if dirExists(dest) {
		if !replace {
			// Lost a race to another process; the existing artifact wins.
			return nil
		}
		var err error
		aside, err = os.MkdirTemp(m.root, ".retired-")
		if err != nil {
			return fmt.Errorf("create retire dir: %w", err)
		}
		if err := os.Rename(dest, filepath.Join(aside, "old")); err != nil {
			os.RemoveAll(aside)
			return fmt.Errorf("retire previous artifact: %w", err)
		}
	}

	if err := os.Rename(staged, dest); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			slog.Warn("failed to remove retired model artifact", "path", aside, "error", err)
		}
	}
	return nil
}

// Lookup returns the cached location for modelName, or ErrNotFound.
func (m *Manager) Lookup(modelName string) (string, error) {
	key, err := cacheKey(modelName)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(m.root, key)
	if !dirExists(dest) {
		return "", ErrNotFound
	}
	return dest, nil
}

// Entry returns the cache entry for one model, with its size walked from
// disk, or ErrNotFound.
func (m *Manager) Entry(modelName string) (models.ModelCacheEntry, error) {
	path, err := m.Lookup(modelName)
	if err != nil {
		return models.ModelCacheEntry{}, err
	}
	return models.ModelCacheEntry{
		ModelName: modelName,
		ModelKey:  models.ModelKey(modelName),
		Path:      path,
		SizeBytes: dirSize(path),
	}, nil
}

// List returns every cached entry with its size, newest directory layout
// aside: staged and retired directories (hidden names) are skipped.
func (m *Manager) List() ([]models.ModelCacheEntry, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	entries := make([]models.ModelCacheEntry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		path := filepath.Join(m.root, d.Name())
		entries = append(entries, models.ModelCacheEntry{
			ModelName: models.ModelNameFromKey(d.Name()),
			ModelKey:  d.Name(),
			Path:      path,
			SizeBytes: dirSize(path),
		})
	}
	return entries, nil
}

// TotalSize returns the summed size of all cached artifacts.
func (m *Manager) TotalSize() (int64, error) {
	entries, err := m.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return total, nil
}

// Evict removes one model's artifact and its listing. Evicting a model that
// is not cached returns ErrNotFound; callers retrying a delete may treat
// that as success.
func (m *Manager) Evict(modelName string) error {
	key, err := cacheKey(modelName)
	if err != nil {
		return err
	}
	path := filepath.Join(m.root, key)
	if !dirExists(path) {
		return ErrNotFound
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("evict %s: %w", modelName, err)
	}
	return nil
}

// EvictAll removes every cached artifact. Each deletion is independent: one
// failure does not stop the rest, and all failures come back aggregated.
// Returns how many entries were removed.
func (m *Manager) EvictAll() (int, error) {
	entries, err := m.List()
	if err != nil {
		return 0, err
	}

	var errs *multierror.Error
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(e.Path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("evict %s: %w", e.ModelName, err))
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}

// cacheKey validates and normalizes a model identifier. The identifier must
// not escape the cache root once normalized.
func cacheKey(modelName string) (string, error) {
	if modelName == "" {
		return "", fmt.Errorf("model name is required")
	}
	key := models.ModelKey(modelName)
	if strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid model name %q", modelName)
	}
	return key, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirSize(path string) int64 {
	var total int64
	filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
