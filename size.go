package vouch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hhatto/gocloc"
)

// LineCounter is a SizeMeter that counts lines of code, excluding blanks
// and comments, using gocloc's language definitions.
type LineCounter struct {
	langs  []string
	ignore IgnoreList
	defs   *gocloc.DefinedLanguages
}

// LineCounterOption configures a LineCounter.
type LineCounterOption func(*LineCounter)

// WithLanguages sets the gocloc language names counted, e.g. "Rust".
func WithLanguages(langs ...string) LineCounterOption {
	return func(c *LineCounter) {
		c.langs = langs
	}
}

// WithLineCounterIgnore excludes paths from counting.
func WithLineCounterIgnore(l IgnoreList) LineCounterOption {
	return func(c *LineCounter) {
		c.ignore = l
	}
}

// NewLineCounter returns a LineCounter over Rust sources that skips the
// default ignore list.
func NewLineCounter(opts ...LineCounterOption) *LineCounter {
	c := &LineCounter{
		langs:  []string{"Rust"},
		ignore: DefaultIgnoreList(),
		defs:   gocloc.NewDefinedLanguages(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Measure counts code lines under root. Ignored paths and symbolic links
// are skipped.
func (c *LineCounter) Measure(ctx context.Context, root string) (uint64, error) {
	files, err := c.files(ctx, root)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}

	opts := gocloc.NewClocOptions()
	for _, l := range c.langs {
		opts.IncludeLangs[l] = struct{}{}
	}
	result, err := gocloc.NewProcessor(c.defs, opts).Analyze(files)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return uint64(result.Total.Code), nil
}

// files lists the regular files under root that survive the ignore list.
func (c *LineCounter) files(ctx context.Context, root string) ([]string, error) {
	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var files []string
	err = fs.WalkDir(r.FS(), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != "." && c.ignore.Contains(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, filepath.Join(root, filepath.FromSlash(p)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
