//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/vouch"
	"github.com/meigma/vouch/fetch/oci"
	"github.com/meigma/vouch/internal/testutil"
)

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistryContainer(context.Background())
	})
	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}
	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// newTestFetcher creates a fetcher that stores packages under a
// per-test repository prefix and unpacks them into a fresh directory.
func newTestFetcher(tb testing.TB, opts ...oci.FetcherOption) (*oci.Fetcher, string) {
	tb.Helper()

	addr := getRegistry(tb)
	prefix := fmt.Sprintf("%s/test/%s", addr, strings.ToLower(strings.NewReplacer("/", "-", "#", "-").Replace(tb.Name())))
	root := tb.TempDir()

	f, err := oci.NewFetcher(oci.New(oci.WithPlainHTTP(true), oci.WithAnonymous()), prefix, root, opts...)
	require.NoError(tb, err, "create test fetcher")
	return f, root
}

// publish pushes files as name@version.
func publish(tb testing.TB, f *oci.Fetcher, name, version string, files map[string]string) {
	tb.Helper()

	dir := tb.TempDir()
	testutil.WriteTree(tb, dir, files)
	_, err := f.Push(context.Background(), vouch.PackageID{Name: name, Version: version}, dir, vouch.DefaultIgnoreList())
	require.NoError(tb, err, "push %s@%s", name, version)
}

// sampleCrate is a small package tree with nested sources.
var sampleCrate = map[string]string{
	"Cargo.toml":      "[package]\nname = \"sample\"\nversion = \"1.0.0\"\n",
	"src/lib.rs":      "pub mod util;\n\npub fn add(a: u32, b: u32) -> u32 {\n    a + b\n}\n",
	"src/util/mod.rs": "pub fn noop() {}\n",
	"README.md":       "sample\n",
}
