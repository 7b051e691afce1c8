package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Accept header sent to delivery hosts
const acceptImages = "image/png,image/jpeg,image/*"

// maxRedirects matches net/http's default policy
const maxRedirects = 10

// ErrTooLarge is returned when the upstream body exceeds the configured limit
var ErrTooLarge = errors.New("proxied body exceeds size limit")

// Payload is the raw body of a proxied response
type Payload struct {
	Body        []byte
	ContentType string
}

// Fetcher retrieves the bytes behind an ephemeral artifact URL
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Payload, error)
}

// UpstreamError is returned when the delivery host answers with a non-2xx status
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with %d: %s", e.StatusCode, e.Body)
}

// DirectFetcher performs the allow-listed GET in-process. It backs the /proxy route.
type DirectFetcher struct {
	allow    *AllowList
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewDirectFetcher creates a DirectFetcher. maxBytes <= 0 disables the size limit.
func NewDirectFetcher(allow *AllowList, client *http.Client, maxBytes int64, logger *zap.Logger) *DirectFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectFetcher{
		allow:    allow,
		client:   guardRedirects(client, allow),
		maxBytes: maxBytes,
		logger:   logger.Named("proxy"),
	}
}

// guardRedirects returns a copy of client that validates every redirect
// target against allow. The caller's client is left untouched.
func guardRedirects(client *http.Client, allow *AllowList) *http.Client {
	guarded := *client
	next := client.CheckRedirect
	guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if _, err := allow.Validate(req.URL.String()); err != nil {
			return fmt.Errorf("redirect: %w", err)
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &guarded
}

// Fetch validates the host before any outbound call and returns the upstream body
func (f *DirectFetcher) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	u, err := f.allow.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptImages)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	return readPayload(resp, f.maxBytes, f.logger.With(zap.String("host", u.Host)))
}

func readPayload(resp *http.Response, maxBytes int64, log *zap.Logger) (*Payload, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn("proxy upstream returned non-2xx status", zap.Int("status_code", resp.StatusCode))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "Failed to fetch image"
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: msg}
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	log.Debug("proxied body received", zap.Int("size_bytes", len(body)), zap.String("content_type", contentType))
	return &Payload{Body: body, ContentType: contentType}, nil
}
