// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/bonial-oss/kev-tracker/internal/config"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

// UserAgent is sent with every upstream request.
var UserAgent = config.Name + "/dev"

// New returns a pooled client with the given overall request timeout.
func New(timeout time.Duration) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return c
}

// Get performs a GET against url and returns the body. Transport failures,
// non-200 statuses and bodies larger than maxSize bytes are reported as
// types.ErrUpstreamUnavailable.
func Get(ctx context.Context, c *http.Client, url string, header http.Header, maxSize int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: HTTP request failed: %w", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: HTTP %d for %s", types.ErrUpstreamUnavailable, resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", types.ErrUpstreamUnavailable, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: response from %s exceeds %d bytes", types.ErrUpstreamUnavailable, url, maxSize)
	}
	return data, nil
}
