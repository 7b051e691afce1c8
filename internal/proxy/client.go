package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Client downloads artifacts through a same-origin /proxy endpoint of a running server
type Client struct {
	endpoint string
	allow    *AllowList
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewClient targets <baseURL>/proxy
func NewClient(baseURL string, allow *AllowList, client *http.Client, maxBytes int64, logger *zap.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/proxy",
		allow:    allow,
		client:   guardRedirects(client, allow),
		maxBytes: maxBytes,
		logger:   logger.Named("proxy_client"),
	}
}

// Fetch checks the host locally, then asks the proxy endpoint for the bytes
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	if _, err := c.allow.Validate(rawURL); err != nil {
		return nil, err
	}

	endpoint := c.endpoint + "?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptImages)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to download image through proxy: %w", err)
	}
	defer resp.Body.Close()

	return readPayload(resp, c.maxBytes, c.logger)
}
