// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bonial-oss/kev-tracker/internal/httpclient"
	"github.com/bonial-oss/kev-tracker/internal/logging"
)

const (
	maxResponseSize = 10 * 1024 * 1024 // 10 MB
	apiKeyHeader    = "apiKey"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// MinInterval is the spacing enforced between consecutive requests.
	MinInterval time.Duration
	// PaceOnlyOnMiss only spaces a request after one that returned no score.
	PaceOnlyOnMiss bool
}

// Client queries the NVD CVE API for CVSS base scores. It keeps pacing
// state and is not safe for concurrent use.
type Client struct {
	opts       Options
	httpClient *http.Client
	log        logrus.FieldLogger
	pacer      *pacer
}

// NewClient creates an NVD client.
func NewClient(opts Options, httpClient *http.Client, log logrus.FieldLogger) *Client {
	return &Client{
		opts:       opts,
		httpClient: httpClient,
		log:        logging.OrDiscard(log),
		pacer:      newPacer(opts.MinInterval, opts.PaceOnlyOnMiss),
	}
}

type response struct {
	TotalResults    int             `json:"totalResults"`
	Vulnerabilities []vulnerability `json:"vulnerabilities"`
}

type vulnerability struct {
	CVE struct {
		ID      string  `json:"id"`
		Metrics metrics `json:"metrics"`
	} `json:"cve"`
}

type metrics struct {
	CVSSMetricV31 []cvssMetric `json:"cvssMetricV31"`
	CVSSMetricV30 []cvssMetric `json:"cvssMetricV30"`
	CVSSMetricV2  []cvssMetric `json:"cvssMetricV2"`
}

type cvssMetric struct {
	Source   string `json:"source"`
	Type     string `json:"type"`
	CVSSData struct {
		Version   string   `json:"version"`
		BaseScore *float64 `json:"baseScore"`
	} `json:"cvssData"`
}

// extractor pulls the base score of one CVSS version out of the metrics.
type extractor struct {
	version string
	extract func(metrics) *float64
}

// extractors are tried in order; the newest CVSS version wins.
var extractors = []extractor{
	{version: "3.1", extract: func(m metrics) *float64 { return firstBaseScore(m.CVSSMetricV31) }},
	{version: "3.0", extract: func(m metrics) *float64 { return firstBaseScore(m.CVSSMetricV30) }},
	{version: "2.0", extract: func(m metrics) *float64 { return firstBaseScore(m.CVSSMetricV2) }},
}

func firstBaseScore(ms []cvssMetric) *float64 {
	if len(ms) == 0 {
		return nil
	}
	return ms[0].CVSSData.BaseScore
}

// baseScore returns the preferred CVSS base score of m along with the CVSS
// version it came from, or nil when no known version is present.
func baseScore(m metrics) (*float64, string) {
	for _, e := range extractors {
		if score := e.extract(m); score != nil {
			return score, e.version
		}
	}
	return nil, ""
}

// Severity returns the CVSS base score for cveID. A nil score with a nil
// error means NVD has no usable score. Transport and status failures wrap
// types.ErrUpstreamUnavailable. Requests are spaced according to
// Options.MinInterval.
func (c *Client) Severity(ctx context.Context, cveID string) (*float64, error) {
	if err := c.pacer.wait(ctx); err != nil {
		return nil, err
	}
	score, err := c.severity(ctx, cveID)
	c.pacer.done(score == nil)
	return score, err
}

func (c *Client) severity(ctx context.Context, cveID string) (*float64, error) {
	u := c.opts.BaseURL + "?" + url.Values{"cveId": {cveID}}.Encode()

	var header http.Header
	if c.opts.APIKey != "" {
		header = http.Header{}
		header.Set(apiKeyHeader, c.opts.APIKey)
	}

	data, err := httpclient.Get(ctx, c.httpClient, u, header, maxResponseSize)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding NVD response for %s: %w", cveID, err)
	}
	if len(resp.Vulnerabilities) == 0 {
		c.log.WithField("cve", cveID).Debug("CVE not found in NVD")
		return nil, nil
	}

	score, version := baseScore(resp.Vulnerabilities[0].CVE.Metrics)
	if score == nil {
		c.log.WithField("cve", cveID).Debug("no CVSS metrics published")
		return nil, nil
	}
	if *score < 0 || *score > 10 {
		return nil, fmt.Errorf("CVSS %s base score %v for %s out of range", version, *score, cveID)
	}
	c.log.WithFields(logrus.Fields{"cve": cveID, "cvss_version": version}).Trace("resolved CVSS base score")
	return score, nil
}
