package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// Size returns the total bytes held by cache entries.
func (c *Cache) Size() (int64, error) {
	_, total, err := c.entries()
	return total, err
}

// Prune removes expired entries, then the oldest remaining entries until
// at most maxBytes are held. A negative maxBytes only removes expired
// entries. It returns the number of bytes freed.
func (c *Cache) Prune(maxBytes int64) (int64, error) {
	entries, remaining, err := c.entries()
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	var freed int64
	for _, entry := range entries {
		overBudget := maxBytes >= 0 && remaining > maxBytes
		if !overBudget && !c.expired(entry.modTime) {
			continue
		}
		if err := os.Remove(entry.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return freed, err
		}
		remaining -= entry.size
		freed += entry.size
	}
	return freed, nil
}

// entries lists committed cache files. Temporary files from in-flight
// writes are skipped.
func (c *Cache) entries() ([]cacheEntry, int64, error) {
	var (
		entries []cacheEntry
		total   int64
	)
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), "cache-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		entries = append(entries, cacheEntry{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	return entries, total, err
}
