package vouch

import (
	"fmt"
	"log/slog"
)

// Option configures a Verifier.
type Option func(*Verifier) error

// WithRootIdentity sets the identity trust is computed from. Without it
// the trust set is empty and nothing verifies.
func WithRootIdentity(id Identity) Option {
	return func(v *Verifier) error {
		v.root = id
		return nil
	}
}

// WithDistanceParams sets how far trust propagates from the root.
func WithDistanceParams(p DistanceParams) Option {
	return func(v *Verifier) error {
		v.distance = p
		return nil
	}
}

// WithRequirements sets the verification thresholds.
func WithRequirements(req VerificationRequirements) Option {
	return func(v *Verifier) error {
		if err := req.Validate(); err != nil {
			return err
		}
		v.requirements = req
		return nil
	}
}

// WithIgnoreList replaces the default ignore list used for digests.
func WithIgnoreList(l IgnoreList) Option {
	return func(v *Verifier) error {
		v.ignore = l
		return nil
	}
}

// WithSkipVerified stops the pipeline after the digest stage for
// dependencies that are already verified.
func WithSkipVerified(enabled bool) Option {
	return func(v *Verifier) error {
		v.skipVerified = enabled
		return nil
	}
}

// WithSkipKnownOwners stops the pipeline after the owners stage for
// dependencies owned by at least one known owner.
func WithSkipKnownOwners(enabled bool) Option {
	return func(v *Verifier) error {
		v.skipKnownOwners = enabled
		return nil
	}
}

// WithKnownOwners sets the owner logins treated as known.
func WithKnownOwners(owners ...string) Option {
	return func(v *Verifier) error {
		for _, o := range owners {
			if o != "" {
				v.knownOwners[o] = struct{}{}
			}
		}
		return nil
	}
}

// WithSizeMeter sets the size metric computed for each tree. Defaults to
// a LineCounter over Rust sources.
func WithSizeMeter(m SizeMeter) Option {
	return func(v *Verifier) error {
		if m == nil {
			return fmt.Errorf("%w: size meter is nil", ErrPolicy)
		}
		v.sizeMeter = m
		return nil
	}
}

// WithDurations accumulates stage timings into ds, which may be shared
// with other verifiers.
func WithDurations(ds *Durations) Option {
	return func(v *Verifier) error {
		if ds == nil {
			return fmt.Errorf("%w: durations is nil", ErrPolicy)
		}
		v.durations = ds
		return nil
	}
}

// WithSource sets the package source queried in the proof database.
// Defaults to SourceCratesIO.
func WithSource(source string) Option {
	return func(v *Verifier) error {
		if source == "" {
			return fmt.Errorf("%w: source is empty", ErrPolicy)
		}
		v.source = source
		return nil
	}
}

// WithLogger sets the logger for verification events.
// By default, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) error {
		v.logger = logger
		return nil
	}
}
