package oci

import (
	"errors"
	"log/slog"

	"github.com/meigma/vouch/internal/archive"
)

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher) error

// WithSource sets the source recorded in fetched package IDs.
// Defaults to vouch.SourceCratesIO.
func WithSource(source string) FetcherOption {
	return func(f *Fetcher) error {
		if source == "" {
			return errors.New("source is empty")
		}
		f.source = source
		return nil
	}
}

// WithGzip publishes layers as tar+gzip instead of tar+zstd. Fetch accepts
// either regardless.
func WithGzip() FetcherOption {
	return func(f *Fetcher) error {
		f.compression = archive.CompressionGzip
		return nil
	}
}

// WithUnpackLimits bounds the entries and bytes a fetched layer may hold.
func WithUnpackLimits(maxFiles int, maxBytes int64) FetcherOption {
	return func(f *Fetcher) error {
		if maxFiles < 0 || maxBytes < 0 {
			return errors.New("unpack limits must be non-negative")
		}
		f.limits = archive.Limits{MaxFiles: maxFiles, MaxBytes: maxBytes}
		return nil
	}
}

// WithLogger sets the logger for fetch and push events.
// By default, logging is disabled.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) error {
		f.logger = logger
		return nil
	}
}
