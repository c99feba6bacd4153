package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when the API answers 404.
	ErrNotFound = errors.New("not found on the build service")
	// ErrEmptyResponse is returned when a metadata request keeps answering
	// with an empty body.
	ErrEmptyResponse = errors.New("empty response")
)

// StatusError is a non-2xx answer other than 404.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// IsBadRequest reports whether err is an HTTP 400 answer.
func IsBadRequest(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusBadRequest
}

// ClientOptions tunes the API client.
type ClientOptions struct {
	ConnectTimeout    time.Duration
	RequestsPerSecond float64
	Watchdog          *Watchdog
	// Transport replaces the default dialing transport; tests use it.
	Transport http.RoundTripper
}

// Client fetches documents from the OBS API. Every request hands its
// connection to the watchdog for the time the body is being read.
type Client struct {
	baseURL  string
	http     *http.Client
	watchdog *Watchdog
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ClientOptions) *Client {
	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: opts.ConnectTimeout,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	client := &http.Client{Transport: transport}
	if opts.RequestsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		wrapHTTPClient(client, func(req *http.Request, next http.RoundTripper) (*http.Response, error) {
			if err := limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
			return next.RoundTrip(req)
		})
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     client,
		watchdog: opts.Watchdog,
	}
}

func wrapHTTPClient(client *http.Client, wrap func(req *http.Request, next http.RoundTripper) (*http.Response, error)) {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return wrap(req, base)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// fetchMode selects how an answer is validated.
type fetchMode int

const (
	// metadata answers must not be empty.
	metadata fetchMode = iota
	// content answers may legitimately be empty files.
	content
)

// fetch retrieves path (relative to the API root). Transport errors, server
// errors and empty metadata answers are retried once; 404 and 400 are not.
func (c *Client) fetch(ctx context.Context, path string, query url.Values, mode fetchMode) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		data, err := c.get(ctx, u)
		if err == nil && mode == metadata && len(data) == 0 {
			err = fmt.Errorf("%w from %s", ErrEmptyResponse, u)
		}
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) || IsBadRequest(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		slog.Debug("fetch failed", "url", u, "attempt", attempt, "err", err)
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var (
		mu      sync.Mutex
		release = func() {}
	)
	if c.watchdog != nil {
		trace := &httptrace.ClientTrace{
			GotConn: func(info httptrace.GotConnInfo) {
				mu.Lock()
				defer mu.Unlock()
				release()
				release = c.watchdog.Watch(info.Conn, u)
			},
		}
		ctx = httptrace.WithClientTrace(ctx, trace)
	}
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		release()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: u, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	return data, nil
}
