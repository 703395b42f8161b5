package proofdb

import (
	"log/slog"
	"time"
)

// Option configures a DB.
type Option func(*DB)

// WithClock sets the time source used for review age checks.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// WithLogger sets the logger for load events.
// By default, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}
