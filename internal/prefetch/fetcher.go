package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"reel/internal/services"
)

// Fetcher opens a media payload for download.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher downloads media over http and https. Media URLs come from the
// feed backend, so file:// is refused unless WithFileRoot confines it to a
// fixture directory.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	fileRoot string
}

// FetcherOption customizes an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithFileRoot serves file:// media URLs from dir, with the URL path
// resolved inside it. Used for fixture feeds whose clips live on disk.
func WithFileRoot(dir string) FetcherOption {
	return func(f *HTTPFetcher) {
		if dir = strings.TrimSpace(dir); dir != "" {
			f.fileRoot = filepath.Clean(dir)
		}
	}
}

// NewHTTPFetcher builds a fetcher with a per-request timeout. A nil client
// uses a transport derived from http.DefaultTransport.
func NewHTTPFetcher(client *http.Client, timeout time.Duration, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{client: client, timeout: timeout}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if f.fileRoot != "" {
			transport.RegisterProtocol("file", http.NewFileTransport(http.Dir(f.fileRoot)))
		}
		f.client = &http.Client{Transport: transport}
	}
	return f
}

func (f *HTTPFetcher) allowed(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return services.Wrap(services.ErrValidation, "prefetch", "build request", "invalid media url", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return nil
	case "file":
		if f.fileRoot != "" {
			return nil
		}
	}
	return services.Wrap(services.ErrValidation, "prefetch", "build request",
		fmt.Sprintf("unsupported media url scheme %q", parsed.Scheme), nil)
}

// Fetch starts a GET for rawURL. The caller must close the returned body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := f.allowed(rawURL); err != nil {
		return nil, err
	}
	cancel := context.CancelFunc(func() {})
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, services.Wrap(services.ErrValidation, "prefetch", "build request", "invalid media url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, services.Wrap(services.ErrTimeout, "prefetch", "fetch media", "request timed out", err)
		}
		return nil, services.Wrap(services.ErrTransient, "prefetch", "fetch media", "request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		marker := services.ErrExternal
		switch {
		case resp.StatusCode == http.StatusNotFound:
			marker = services.ErrNotFound
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "prefetch", "fetch media", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
