// SPDX-FileCopyrightText: 2025 Anchore, Inc.
// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package enricher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bonial-oss/kev-tracker/internal/types"
)

func record(cvss float64, ransomware string) types.Record {
	return types.Record{
		CVEID:                      "CVE-2021-44228",
		KnownRansomwareCampaignUse: ransomware,
		CVSS:                       &cvss,
	}
}

func TestRiskScore_Ransomware(t *testing.T) {
	// CVSS 7.0 -> HIGH band 0.75, base 0.7 -> severity 0.725
	// min(1.0 * 0.725 * 1.1, 1.0) * 100 = 79.75
	got := RiskScore(record(7.0, "Known"))
	assert.InEpsilon(t, 79.75, got, 0.01)
}

func TestRiskScore_NoRansomware(t *testing.T) {
	// CVSS 7.0 -> severity 0.725, kevMod=1.05 -> 76.125
	got := RiskScore(record(7.0, "Unknown"))
	assert.InEpsilon(t, 76.125, got, 0.01)
}

func TestRiskScore_NoCVSS(t *testing.T) {
	// no score -> UNKNOWN band 0.5, kevMod=1.05 -> 52.5
	got := RiskScore(types.Record{CVEID: "CVE-2024-0001", KnownRansomwareCampaignUse: "Unknown"})
	assert.InEpsilon(t, 52.5, got, 0.01)

	// an explicit zero behaves like a missing score
	assert.InEpsilon(t, 52.5, RiskScore(record(0, "Unknown")), 0.01)
}

func TestRiskScore_Capped(t *testing.T) {
	// CVSS 10.0 -> severity (0.9+1.0)/2=0.95, kevMod=1.1 -> min(1.045, 1.0) * 100 = 100
	got := RiskScore(record(10.0, "Known"))
	assert.InEpsilon(t, 100.0, got, 0.01)
}

func TestRiskScore_RansomwareCaseInsensitive(t *testing.T) {
	assert.InEpsilon(t, RiskScore(record(5.0, "Known")), RiskScore(record(5.0, "known")), 0.0001)
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		cvss float64
		want string
	}{
		{10.0, SeverityCritical},
		{9.0, SeverityCritical},
		{8.9, SeverityHigh},
		{7.0, SeverityHigh},
		{6.9, SeverityMedium},
		{4.0, SeverityMedium},
		{3.9, SeverityLow},
		{0.1, SeverityLow},
		{0, SeverityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Severity(tt.cvss), "cvss %v", tt.cvss)
	}
}

func TestSeverityToScore(t *testing.T) {
	tests := []struct {
		severity string
		want     float64
	}{
		{"negligible", 0.5},
		{"NEGLIGIBLE", 0.5},
		{"low", 3.0},
		{"LOW", 3.0},
		{"medium", 5.0},
		{"MEDIUM", 5.0},
		{"high", 7.5},
		{"HIGH", 7.5},
		{"critical", 9.0},
		{"CRITICAL", 9.0},
		{"unknown", 5.0},
		{"", 5.0},
		{"something-else", 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			got := severityToScore(tt.severity)
			assert.InEpsilon(t, tt.want, got, 0.01)
		})
	}
}
