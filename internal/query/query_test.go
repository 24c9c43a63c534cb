// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/kev-tracker/internal/types"
)

func date(t *testing.T, s string) types.Date {
	t.Helper()
	d, err := types.ParseDate(s)
	require.NoError(t, err)
	return d
}

func score(v float64) *float64 {
	return &v
}

func fixtures(t *testing.T) []types.Record {
	t.Helper()
	return []types.Record{
		{
			CVEID:                      "CVE-2021-44228",
			VendorProject:              "Apache",
			Product:                    "Log4j2",
			VulnerabilityName:          "Apache Log4j2 Remote Code Execution Vulnerability",
			DateAdded:                  date(t, "2021-12-10"),
			DueDate:                    date(t, "2021-12-24"),
			ShortDescription:           "JNDI features do not protect against attacker controlled LDAP endpoints.",
			KnownRansomwareCampaignUse: "Known",
			CWEs:                       []string{"CWE-917"},
			EPSS:                       score(0.97),
			CVSS:                       score(10.0),
		},
		{
			CVEID:                      "CVE-2024-3400",
			VendorProject:              "Palo Alto Networks",
			Product:                    "PAN-OS",
			VulnerabilityName:          "Palo Alto Networks PAN-OS Command Injection Vulnerability",
			DateAdded:                  date(t, "2024-04-12"),
			DueDate:                    date(t, "2024-04-19"),
			KnownRansomwareCampaignUse: "Unknown",
			Notes:                      "https://security.paloaltonetworks.com/CVE-2024-3400",
			CWEs:                       []string{"CWE-77"},
			EPSS:                       score(0.95),
			CVSS:                       score(9.8),
		},
		{
			CVEID:                      "CVE-2023-4966",
			VendorProject:              "Citrix",
			Product:                    "NetScaler",
			VulnerabilityName:          "Citrix Bleed",
			DateAdded:                  date(t, "2023-10-18"),
			DueDate:                    date(t, "2023-11-08"),
			KnownRansomwareCampaignUse: "Known",
			CWEs:                       []string{"CWE-119"},
			EPSS:                       score(0.96),
			CVSS:                       score(7.5),
		},
		{
			CVEID:                      "CVE-2024-21762",
			VendorProject:              "Apache",
			Product:                    "Struts",
			VulnerabilityName:          "Struts upload flaw",
			DateAdded:                  date(t, "2024-02-09"),
			DueDate:                    date(t, "2024-03-01"),
			KnownRansomwareCampaignUse: "Unknown",
			EPSS:                       score(0),
			CVSS:                       score(0),
		},
	}
}

func cveIDs(records []types.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.CVEID)
	}
	return out
}

func timePtr(t *testing.T, s string) *time.Time {
	t.Helper()
	d := date(t, s).Time
	return &d
}

func TestFilter_Apply(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name: "zero filter keeps everything",
			want: []string{"CVE-2021-44228", "CVE-2024-3400", "CVE-2023-4966", "CVE-2024-21762"},
		},
		{
			name:   "date range is inclusive",
			filter: Filter{From: timePtr(t, "2023-10-18"), To: timePtr(t, "2024-02-09")},
			want:   []string{"CVE-2023-4966", "CVE-2024-21762"},
		},
		{
			name:   "vendor exact match",
			filter: Filter{Vendors: []string{"Apache"}},
			want:   []string{"CVE-2021-44228", "CVE-2024-21762"},
		},
		{
			name:   "vendor match is not substring",
			filter: Filter{Vendors: []string{"Palo"}},
			want:   []string{},
		},
		{
			name:   "search is case-insensitive across fields",
			filter: Filter{Search: "jndi"},
			want:   []string{"CVE-2021-44228"},
		},
		{
			name:   "search matches notes",
			filter: Filter{Search: "paloaltonetworks.com"},
			want:   []string{"CVE-2024-3400"},
		},
		{
			name:   "search matches cwes",
			filter: Filter{Search: "cwe-119"},
			want:   []string{"CVE-2023-4966"},
		},
		{
			name:   "search matches dates",
			filter: Filter{Search: "2024-04"},
			want:   []string{"CVE-2024-3400"},
		},
		{
			name:   "ransomware only",
			filter: Filter{RansomwareOnly: true},
			want:   []string{"CVE-2021-44228", "CVE-2023-4966"},
		},
		{
			name:   "score thresholds",
			filter: Filter{MinEPSS: 0.96, MinCVSS: 8},
			want:   []string{"CVE-2021-44228"},
		},
		{
			name:   "combined",
			filter: Filter{Vendors: []string{"Apache", "Citrix"}, From: timePtr(t, "2022-01-01")},
			want:   []string{"CVE-2023-4966", "CVE-2024-21762"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.filter.Apply(fixtures(t))
			assert.Equal(t, tc.want, cveIDs(got))
		})
	}
}

func TestFilter_DateRangeSkipsUndated(t *testing.T) {
	recs := []types.Record{{CVEID: "CVE-0000-0001"}}
	got := Filter{From: timePtr(t, "2020-01-01")}.Apply(recs)
	assert.Empty(t, got)
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 4, 15, 8, 0, 0, 0, time.UTC)

	s := Summarize(fixtures(t), now, 2)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Unresolved)
	assert.Equal(t, 2, s.RansomwareUse)
	assert.Equal(t, []VendorCount{{Vendor: "Apache", Count: 2}, {Vendor: "Citrix", Count: 1}}, s.TopVendors)
	assert.InDelta(t, (0.97+0.95+0.96)/4, s.MeanEPSS, 1e-9)
	assert.InDelta(t, (10.0+9.8+7.5)/4, s.MeanCVSS, 1e-9)
	assert.Equal(t, "2024-04-12", s.NewestAddition.String())
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, time.Now(), 5)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.MeanEPSS)
	assert.Empty(t, s.TopVendors)
}

func TestSummarize_NegativeTopNListsAll(t *testing.T) {
	s := Summarize(fixtures(t), time.Now(), -1)
	assert.Len(t, s.TopVendors, 3)
}

func TestSort(t *testing.T) {
	tests := []struct {
		by   string
		want []string
	}{
		{by: "", want: []string{"CVE-2021-44228", "CVE-2024-3400", "CVE-2023-4966", "CVE-2024-21762"}},
		{by: SortRisk, want: []string{"CVE-2021-44228", "CVE-2024-3400", "CVE-2023-4966", "CVE-2024-21762"}},
		{by: SortEPSS, want: []string{"CVE-2021-44228", "CVE-2023-4966", "CVE-2024-3400", "CVE-2024-21762"}},
		{by: SortCVSS, want: []string{"CVE-2021-44228", "CVE-2024-3400", "CVE-2023-4966", "CVE-2024-21762"}},
		{by: SortCVE, want: []string{"CVE-2021-44228", "CVE-2023-4966", "CVE-2024-21762", "CVE-2024-3400"}},
		{by: SortDateAdded, want: []string{"CVE-2024-3400", "CVE-2024-21762", "CVE-2023-4966", "CVE-2021-44228"}},
		{by: SortDueDate, want: []string{"CVE-2024-3400", "CVE-2024-21762", "CVE-2023-4966", "CVE-2021-44228"}},
	}

	for _, tc := range tests {
		t.Run(tc.by, func(t *testing.T) {
			recs := fixtures(t)
			require.NoError(t, Sort(recs, tc.by))
			assert.Equal(t, tc.want, cveIDs(recs))
		})
	}
}

func TestSort_UnknownKey(t *testing.T) {
	err := Sort(fixtures(t), "severity")
	assert.ErrorContains(t, err, "unknown sort key")
}
