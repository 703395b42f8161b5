package cratesio

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
)

// Option configures a Client.
type Option func(*Client) error

// WithAPIURL sets the registry root, e.g. "https://crates.io".
func WithAPIURL(raw string) Option {
	return func(c *Client) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("api url must be http or https")
		}
		c.baseURL = raw
		return nil
	}
}

// WithUserAgent sets the User-Agent header. crates.io rejects requests
// without one.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		if ua == "" {
			return errors.New("user agent is empty")
		}
		c.userAgent = ua
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithCache enables response caching.
func WithCache(cache Cache) Option {
	return func(c *Client) error {
		c.cache = cache
		return nil
	}
}

// WithLogger sets the logger for cache and request events.
// By default, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
