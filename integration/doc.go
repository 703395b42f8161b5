//go:build integration

// Package integration provides end-to-end tests for publishing and
// fetching source packages through an OCI registry.
//
// These tests require Docker and spin up a real registry using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
