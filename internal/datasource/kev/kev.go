// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package kev

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/bonial-oss/kev-tracker/internal/httpclient"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const maxResponseSize = 50 * 1024 * 1024 // 50 MB

// Feed is one revision of the KEV catalog.
type Feed struct {
	CatalogVersion string
	DateReleased   string
	Records        []types.Record
}

// Client fetches the CISA KEV catalog.
type Client struct {
	url         string
	fallbackURL string
	httpClient  *http.Client
	log         logrus.FieldLogger
}

// NewClient creates a feed client. fallbackURL is optional; when set it is
// tried once if the primary URL cannot be downloaded.
func NewClient(url, fallbackURL string, httpClient *http.Client, log logrus.FieldLogger) *Client {
	return &Client{
		url:         url,
		fallbackURL: fallbackURL,
		httpClient:  httpClient,
		log:         logging.OrDiscard(log),
	}
}

// Fetch downloads and parses the current catalog. Download failures wrap
// types.ErrUpstreamUnavailable, schema violations wrap types.ErrMalformedFeed.
// Nothing is retried.
func (c *Client) Fetch(ctx context.Context) (*Feed, error) {
	data, err := c.download(ctx)
	if err != nil {
		return nil, err
	}
	feed, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"catalog_version": feed.CatalogVersion,
		"records":         len(feed.Records),
	}).Debug("fetched KEV catalog")
	return feed, nil
}

// download fetches the catalog JSON from the primary URL.
// If the primary URL fails and a fallback is configured, the fallback is
// tried once. If both fail, both errors are returned.
func (c *Client) download(ctx context.Context) ([]byte, error) {
	data, err := httpclient.Get(ctx, c.httpClient, c.url, nil, maxResponseSize)
	if err == nil {
		return data, nil
	}
	if c.fallbackURL == "" || ctx.Err() != nil {
		return nil, fmt.Errorf("downloading KEV catalog: %w", err)
	}

	c.log.WithError(err).WithField("url", c.fallbackURL).Warn("primary KEV feed failed, trying fallback")

	data, err2 := httpclient.Get(ctx, c.httpClient, c.fallbackURL, nil, maxResponseSize)
	if err2 == nil {
		return data, nil
	}

	var result *multierror.Error
	result = multierror.Append(result,
		fmt.Errorf("primary (%s): %w", c.url, err),
		fmt.Errorf("fallback (%s): %w", c.fallbackURL, err2),
	)
	return nil, fmt.Errorf("downloading KEV catalog: %w", result)
}

// Parse unmarshals the KEV catalog JSON and converts every entry into an
// unscored record, keeping feed order.
func Parse(data []byte) (*Feed, error) {
	var catalog types.KEVCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling KEV catalog: %w", types.ErrMalformedFeed, err)
	}
	if catalog.CatalogVersion == "" {
		return nil, fmt.Errorf("%w: missing catalogVersion", types.ErrMalformedFeed)
	}
	if catalog.Vulnerabilities == nil {
		return nil, fmt.Errorf("%w: missing vulnerabilities", types.ErrMalformedFeed)
	}

	entries := *catalog.Vulnerabilities
	feed := &Feed{
		CatalogVersion: catalog.CatalogVersion,
		DateReleased:   catalog.DateReleased,
		Records:        make([]types.Record, 0, len(entries)),
	}
	for i, entry := range entries {
		if entry.CVEID == "" {
			return nil, fmt.Errorf("%w: vulnerability %d has no cveID", types.ErrMalformedFeed, i)
		}
		rec, err := entry.Record()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", types.ErrMalformedFeed, entry.CVEID, err)
		}
		feed.Records = append(feed.Records, rec)
	}
	return feed, nil
}
