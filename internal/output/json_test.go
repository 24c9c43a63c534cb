// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON_Report(t *testing.T) {
	snap := makeTestSnapshot(t)
	report := NewReport(snap, snap.Records[:2], true)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, report))
	output := buf.Bytes()

	// Verify indentation (should start with "{\n  ").
	assert.True(t, bytes.HasPrefix(output, []byte("{\n  ")), "output is not indented as expected")

	var parsed struct {
		CatalogVersion  string                       `json:"catalogVersion"`
		Stale           bool                         `json:"stale"`
		Count           int                          `json:"count"`
		Vulnerabilities []map[string]json.RawMessage `json:"vulnerabilities"`
	}
	require.NoError(t, json.Unmarshal(output, &parsed))
	assert.Equal(t, "2024.01.16", parsed.CatalogVersion)
	assert.True(t, parsed.Stale)
	assert.Equal(t, 2, parsed.Count)
	require.Len(t, parsed.Vulnerabilities, 2)

	first := parsed.Vulnerabilities[0]
	assert.JSONEq(t, `"CVE-2024-1234"`, string(first["cveID"]))
	assert.JSONEq(t, `"2024-01-15"`, string(first["dateAdded"]))
	assert.JSONEq(t, `0.97`, string(first["EPSS"]))
	assert.JSONEq(t, `9.8`, string(first["CVSS3"]))
	assert.JSONEq(t, `"CRITICAL"`, string(first["severity"]))
	assert.Contains(t, first, "riskScore")

	second := parsed.Vulnerabilities[1]
	assert.JSONEq(t, `null`, string(second["dueDate"]))
}

func TestWriteJSON_NoHTMLEscape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]string{"url": "https://example.com/?a=1&b=<2>"}))

	assert.Contains(t, buf.String(), "a=1&b=<2>")
}
