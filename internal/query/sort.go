// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"sort"

	"github.com/bonial-oss/kev-tracker/internal/enricher"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

// Sort keys.
const (
	SortRisk      = "risk"
	SortEPSS      = "epss"
	SortCVSS      = "cvss"
	SortCVE       = "cve"
	SortDateAdded = "date-added"
	SortDueDate   = "due-date"
)

// SortKeys lists the accepted sort keys.
var SortKeys = []string{SortRisk, SortEPSS, SortCVSS, SortCVE, SortDateAdded, SortDueDate}

// Sort orders records in place. Scores and dates sort descending, CVE IDs
// ascending; ties keep their existing order. An empty key leaves records
// untouched.
func Sort(records []types.Record, by string) error {
	var less func(a, b types.Record) bool
	switch by {
	case "":
		return nil
	case SortRisk:
		less = func(a, b types.Record) bool { return enricher.RiskScore(a) > enricher.RiskScore(b) }
	case SortEPSS:
		less = func(a, b types.Record) bool { return a.EPSSValue() > b.EPSSValue() }
	case SortCVSS:
		less = func(a, b types.Record) bool { return a.CVSSValue() > b.CVSSValue() }
	case SortCVE:
		less = func(a, b types.Record) bool { return a.CVEID < b.CVEID }
	case SortDateAdded:
		less = func(a, b types.Record) bool { return a.DateAdded.After(b.DateAdded.Time) }
	case SortDueDate:
		less = func(a, b types.Record) bool { return a.DueDate.After(b.DueDate.Time) }
	default:
		return fmt.Errorf("unknown sort key %q (valid: %v)", by, SortKeys)
	}
	sort.SliceStable(records, func(i, j int) bool { return less(records[i], records[j]) })
	return nil
}
