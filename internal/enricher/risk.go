// SPDX-FileCopyrightText: 2025 Anchore, Inc.
// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Risk score calculation based on the formula from Grype
// (https://github.com/anchore/grype), licensed under Apache-2.0.

package enricher

import (
	"math"
	"strings"

	"github.com/bonial-oss/kev-tracker/internal/types"
)

// Severity bands derived from a CVSS base score.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityUnknown  = "UNKNOWN"
)

// RiskScore computes a composite risk score (0.0–100.0) for a catalog
// record. Every record is known to be exploited, so the threat factor is
// always 1.0 and the score is driven by severity and ransomware use.
func RiskScore(rec types.Record) float64 {
	t := threat()
	s := severityScore(rec.CVSSValue())
	k := kevModifier(rec.KnownRansomwareCampaignUse)
	return math.Min(t*s*k, 1.0) * 100.0
}

func threat() float64 {
	return 1.0
}

func kevModifier(ransomwareUse string) float64 {
	if strings.EqualFold(ransomwareUse, "known") {
		return 1.1
	}
	return 1.05
}

// Severity maps a CVSS base score to its qualitative band. A zero score
// means no score was available.
func Severity(cvss float64) string {
	switch {
	case cvss >= 9.0:
		return SeverityCritical
	case cvss >= 7.0:
		return SeverityHigh
	case cvss >= 4.0:
		return SeverityMedium
	case cvss > 0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

func severityScore(cvssBaseScore float64) float64 {
	strScore := severityToScore(Severity(cvssBaseScore)) / 10.0
	base := cvssBaseScore / 10.0
	if base == 0 {
		return strScore
	}
	return (strScore + base) / 2.0
}

func severityToScore(severity string) float64 {
	switch strings.ToLower(severity) {
	case "negligible":
		return 0.5
	case "low":
		return 3.0
	case "medium":
		return 5.0
	case "high":
		return 7.5
	case "critical":
		return 9.0
	default:
		return 5.0
	}
}
