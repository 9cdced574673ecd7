package artifactcache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"rmcloud/internal/config"
	"rmcloud/internal/fileutil"
	"rmcloud/internal/logging"
)

const scanBatch = 64

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Cache is the on-disk artifact store rooted at a single directory.
type Cache struct {
	root   string
	logger *slog.Logger
	statfs statfsFunc
}

// Stats describes current cache usage.
type Stats struct {
	Dir            string         `json:"dir"`
	Entries        int            `json:"entries"`
	TotalBytes     int64          `json:"total_bytes"`
	FreeBytes      uint64         `json:"free_bytes"`
	TotalFSBytes   uint64         `json:"total_fs_bytes"`
	FreeRatio      float64        `json:"free_ratio"`
	EntrySummaries []EntrySummary `json:"entry_summaries"`
}

// EntrySummary surfaces details about one cached artifact for the CLI.
type EntrySummary struct {
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	Format     Format    `json:"format"`
	FileName   string    `json:"file_name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, errors.New("artifactcache: empty cache directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifactcache: create %q: %w", root, err)
	}
	return &Cache{
		root:   root,
		logger: logging.NewComponentLogger(logger, "artifactcache"),
		statfs: realStatfs,
	}, nil
}

// NewFromConfig returns nil when caching is disabled.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil, nil
	}
	return New(cfg.Cache.Dir, logger)
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.root
}

// Path returns the file path for key.
func (c *Cache) Path(key Key) (string, error) {
	name, err := FileName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.root, name), nil
}

// Lookup returns the artifact bytes. A missing artifact is (nil, false, nil).
func (c *Cache) Lookup(key Key) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	path, err := c.Path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("artifactcache: read %s: %w", key, err)
	}
	return data, true, nil
}

// Store writes data for key, replacing any existing artifact.
func (c *Cache) Store(key Key, data []byte) error {
	if c == nil {
		return nil
	}
	path, err := c.Path(key)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("artifactcache: store %s: %w", key, err)
	}
	c.logger.Debug("stored artifact",
		logging.String(logging.FieldDocumentID, key.DocumentID),
		logging.Int(logging.FieldVersion, key.Version),
		logging.String(logging.FieldFormat, string(key.Format)),
		logging.Int("size_bytes", len(data)),
	)
	return nil
}

// Remove deletes the artifact for key. Missing artifacts are not an error.
func (c *Cache) Remove(key Key) error {
	if c == nil {
		return nil
	}
	path, err := c.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifactcache: remove %s: %w", key, err)
	}
	return nil
}

// Keys lazily yields every parsable key in the cache directory. Unparsable
// names are skipped. A single error is yielded if the directory cannot be read.
func (c *Cache) Keys() iter.Seq2[Key, error] {
	return func(yield func(Key, error) bool) {
		if c == nil {
			return
		}
		dir, err := os.Open(c.root)
		if err != nil {
			yield(Key{}, fmt.Errorf("artifactcache: open %s: %w", c.root, err))
			return
		}
		defer dir.Close()

		for {
			entries, err := dir.ReadDir(scanBatch)
			for _, entry := range entries {
				if !entry.Type().IsRegular() {
					continue
				}
				key, ok := ParseFileName(entry.Name())
				if !ok {
					continue
				}
				if !yield(key, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Key{}, fmt.Errorf("artifactcache: list %s: %w", c.root, err))
				return
			}
		}
	}
}

// Stats returns current cache usage and filesystem free-space info.
func (c *Cache) Stats() (Stats, error) {
	var s Stats
	if c == nil {
		return s, nil
	}
	var summaries []EntrySummary
	var total int64
	for key, err := range c.Keys() {
		if err != nil {
			return s, err
		}
		name, _ := FileName(key)
		info, err := os.Stat(filepath.Join(c.root, name))
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		total += info.Size()
		summaries = append(summaries, EntrySummary{
			DocumentID: key.DocumentID,
			Version:    key.Version,
			Format:     key.Format,
			FileName:   name,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ModifiedAt.After(summaries[j].ModifiedAt)
	})

	totalFS, freeFS, err := c.statfs(c.root)
	if err != nil {
		return s, fmt.Errorf("artifactcache: statfs: %w", err)
	}
	ratio := 1.0
	if totalFS > 0 {
		ratio = float64(freeFS) / float64(totalFS)
	}
	return Stats{
		Dir:            c.root,
		Entries:        len(summaries),
		TotalBytes:     total,
		FreeBytes:      freeFS,
		TotalFSBytes:   totalFS,
		FreeRatio:      ratio,
		EntrySummaries: summaries,
	}, nil
}

// Clear removes every artifact and returns how many were deleted. Foreign
// files in the directory are left alone.
func (c *Cache) Clear() (int, error) {
	if c == nil {
		return 0, nil
	}
	var keys []Key
	for key, err := range c.Keys() {
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}
	removed := 0
	var errs []error
	for _, key := range keys {
		if err := c.Remove(key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("cleared artifact cache", logging.Int("removed", removed))
	}
	return removed, errors.Join(errs...)
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
