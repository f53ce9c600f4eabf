package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"reel/internal/services"
)

// PageSource supplies feed pages by cursor. The empty cursor is the start of
// the feed.
type PageSource interface {
	FetchPage(ctx context.Context, cursor string) (Page, error)
}

// HTTPSource fetches pages from a JSON endpoint:
//
//	GET {base}/feed?cursor=...&limit=...
//	200 {"items": [...], "next_cursor": "...", "has_more": true}
type HTTPSource struct {
	baseURL    string
	token      string
	language   string
	pageSize   int
	httpClient *http.Client
}

var _ PageSource = (*HTTPSource)(nil)

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *HTTPSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(s *HTTPSource) { s.token = strings.TrimSpace(token) }
}

// WithLanguage sets the preferred content language as a BCP 47 tag.
func WithLanguage(tag string) Option {
	return func(s *HTTPSource) { s.language = strings.TrimSpace(tag) }
}

// WithPageSize sets the limit query parameter.
func WithPageSize(size int) Option {
	return func(s *HTTPSource) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewHTTPSource creates a page source for baseURL.
func NewHTTPSource(baseURL string, timeout time.Duration, opts ...Option) (*HTTPSource, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "feed", "http source", "base url required", nil)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	source := &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageSize:   10,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(source)
	}
	if source.language != "" {
		tag, err := language.Parse(source.language)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "feed", "http source", "invalid language tag", err)
		}
		source.language = acceptLanguage(tag)
	}
	return source, nil
}

// acceptLanguage renders tag followed by its base language as a fallback,
// e.g. "pt-BR, pt;q=0.9".
func acceptLanguage(tag language.Tag) string {
	header := tag.String()
	base, confidence := tag.Base()
	if confidence != language.No && base.String() != header {
		header += ", " + base.String() + ";q=0.9"
	}
	return header
}

// FetchPage requests the page at cursor.
func (s *HTTPSource) FetchPage(ctx context.Context, cursor string) (Page, error) {
	endpoint, err := url.Parse(s.baseURL + "/feed")
	if err != nil {
		return Page{}, fmt.Errorf("parse feed url: %w", err)
	}
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	params.Set("limit", strconv.Itoa(s.pageSize))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if s.language != "" {
		req.Header.Set("Accept-Language", s.language)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	requestStart := time.Now()
	resp, err := s.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return Page{}, services.Wrap(services.ErrTransient, "feed", "fetch page", fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		marker := services.ErrExternal
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			marker = services.ErrConfiguration
		case resp.StatusCode == http.StatusNotFound:
			marker = services.ErrNotFound
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			marker = services.ErrTransient
		}
		return Page{}, services.Wrap(marker, "feed", "fetch page", fmt.Sprintf("status %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, services.Wrap(services.ErrExternal, "feed", "fetch page", "decode response", err)
	}
	page.Cursor = cursor
	return page, nil
}

// FileSource serves pages from a JSON fixture, either a single page object or
// an array of pages chained through next_cursor. The first page answers the
// empty cursor; later pages answer their own cursor field.
type FileSource struct {
	pages map[string]Page
}

var _ PageSource = (*FileSource)(nil)

// ErrUnknownCursor is returned by FileSource for a cursor it does not hold.
var ErrUnknownCursor = errors.New("feed: unknown cursor")

// LoadFileSource reads fixture pages from path.
func LoadFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFileSource(data)
}

// ParseFileSource decodes fixture pages from data.
func ParseFileSource(data []byte) (*FileSource, error) {
	var pages []Page
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var single Page
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, services.Wrap(services.ErrValidation, "feed", "parse fixture", "decode page", err)
		}
		pages = []Page{single}
	} else if err := json.Unmarshal(data, &pages); err != nil {
		return nil, services.Wrap(services.ErrValidation, "feed", "parse fixture", "decode pages", err)
	}
	return NewFileSource(pages...), nil
}

// NewFileSource builds a source from in-memory pages.
func NewFileSource(pages ...Page) *FileSource {
	source := &FileSource{pages: make(map[string]Page, len(pages))}
	for idx, page := range pages {
		key := page.Cursor
		if idx == 0 {
			key = ""
		}
		page.Cursor = key
		if _, exists := source.pages[key]; !exists {
			source.pages[key] = page
		}
	}
	return source
}

// FetchPage returns the fixture page for cursor.
func (s *FileSource) FetchPage(ctx context.Context, cursor string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	page, ok := s.pages[cursor]
	if !ok {
		return Page{}, fmt.Errorf("%w: %q", ErrUnknownCursor, cursor)
	}
	page.Items = append([]Item(nil), page.Items...)
	return page, nil
}
