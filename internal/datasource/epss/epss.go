// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package epss

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bonial-oss/kev-tracker/internal/httpclient"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const maxResponseSize = 1024 * 1024 // 1 MB

// Client queries the FIRST EPSS API for single CVE likelihood scores.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates an EPSS client for the API at baseURL.
func NewClient(baseURL string, httpClient *http.Client, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        logging.OrDiscard(log),
	}
}

type response struct {
	Status string  `json:"status"`
	Total  int     `json:"total"`
	Data   []entry `json:"data"`
}

type entry struct {
	CVE        string     `json:"cve"`
	EPSS       flexFloat  `json:"epss"`
	Percentile *flexFloat `json:"percentile"`
	Date       string     `json:"date"`
}

// flexFloat accepts both JSON numbers and numeric strings; the API
// returns scores as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if s, err := strconv.Unquote(string(data)); err == nil {
		data = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid score %s: %w", data, err)
	}
	*f = flexFloat(v)
	return nil
}

// Likelihood returns the EPSS probability for cveID. A nil score with a nil
// error means the service has no score for the CVE. Transport and status
// failures and undecodable responses wrap types.ErrUpstreamUnavailable.
func (c *Client) Likelihood(ctx context.Context, cveID string) (*float64, error) {
	u := c.baseURL + "?" + url.Values{"cve": {cveID}}.Encode()

	data, err := httpclient.Get(ctx, c.httpClient, u, nil, maxResponseSize)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding EPSS response for %s: %w", types.ErrUpstreamUnavailable, cveID, err)
	}
	if !strings.EqualFold(resp.Status, "OK") || resp.Total == 0 || len(resp.Data) == 0 {
		c.log.WithField("cve", cveID).Debug("no EPSS score published")
		return nil, nil
	}

	score := float64(resp.Data[0].EPSS)
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("EPSS score %v for %s out of range", score, cveID)
	}
	return &score, nil
}
