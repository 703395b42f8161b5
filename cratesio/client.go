// Package cratesio implements vouch.RegistryClient against the crates.io
// HTTP API, or any registry that serves the same API.
package cratesio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/vouch"
)

const (
	// DefaultAPIURL is the public crates.io API root.
	DefaultAPIURL = "https://crates.io"

	defaultUserAgent = "vouch (https://github.com/meigma/vouch)"

	// maxResponseSize bounds decoded API responses.
	maxResponseSize = 16 << 20
)

// Cache stores raw API responses. *disk.Cache satisfies it.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, content []byte) error
}

// Client queries package metadata. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	cache      Cache
	logger     *slog.Logger
}

var _ vouch.RegistryClient = (*Client)(nil)

// New creates a client for the API rooted at DefaultAPIURL. Throttled and
// failed requests are retried with backoff unless WithHTTPClient replaces
// the transport.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultAPIURL,
		userAgent:  defaultUserAgent,
		httpClient: retry.DefaultClient,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

type crateResponse struct {
	Crate struct {
		Name      string `json:"name"`
		Downloads uint64 `json:"downloads"`
	} `json:"crate"`
	Versions []struct {
		Num       string `json:"num"`
		Downloads uint64 `json:"downloads"`
	} `json:"versions"`
}

type ownersResponse struct {
	Users []struct {
		Login string `json:"login"`
		Kind  string `json:"kind"`
	} `json:"users"`
}

// DownloadCounts returns the downloads of one version and of all versions
// of the named crate. A version the registry does not list counts zero.
func (c *Client) DownloadCounts(ctx context.Context, name, version string) (vouch.CrateCounts, error) {
	var resp crateResponse
	if err := c.get(ctx, "crates/"+url.PathEscape(name), &resp); err != nil {
		return vouch.CrateCounts{}, err
	}
	counts := vouch.CrateCounts{Total: resp.Crate.Downloads}
	for _, v := range resp.Versions {
		if v.Num == version {
			counts.Version = v.Downloads
			break
		}
	}
	return counts, nil
}

// Owners returns the login names of the crate's owners, users and teams
// alike, in registry order.
func (c *Client) Owners(ctx context.Context, name string) ([]string, error) {
	var resp ownersResponse
	if err := c.get(ctx, "crates/"+url.PathEscape(name)+"/owners", &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Users))
	for _, u := range resp.Users {
		if u.Login != "" {
			names = append(names, u.Login)
		}
	}
	return names, nil
}

// get fetches /api/v1/<path>, consulting the cache first, and decodes the
// JSON body into out. Only successful responses are cached.
func (c *Client) get(ctx context.Context, path string, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + "/api/v1/" + path

	if c.cache != nil {
		if body, ok := c.cache.Get(endpoint); ok {
			if err := json.Unmarshal(body, out); err == nil {
				c.log().Debug("registry cache hit", "url", endpoint)
				return nil
			}
			c.log().Debug("discarding undecodable cache entry", "url", endpoint)
		}
	}

	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidResponse, endpoint, err)
	}
	if c.cache != nil {
		if err := c.cache.Put(endpoint, body); err != nil {
			c.log().Warn("registry cache write failed", "url", endpoint, "error", err)
		}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, endpoint); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidResponse, endpoint, maxResponseSize)
	}
	return body, nil
}

// statusError maps HTTP status codes to sentinel errors.
func statusError(code int, endpoint string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, endpoint)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, endpoint, code)
	}
}

// Sentinel errors for registry lookups.
var (
	// ErrNotFound is returned when the registry does not know the crate.
	ErrNotFound = errors.New("cratesio: not found")

	// ErrRateLimited is returned when the registry throttles requests.
	ErrRateLimited = errors.New("cratesio: rate limited")

	// ErrUnexpectedStatus is returned for any other non-2xx response.
	ErrUnexpectedStatus = errors.New("cratesio: unexpected status")

	// ErrInvalidResponse is returned when a response cannot be decoded.
	ErrInvalidResponse = errors.New("cratesio: invalid response")
)
