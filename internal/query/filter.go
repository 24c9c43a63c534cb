// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package query filters, sorts and summarizes snapshot records.
package query

import (
	"strings"
	"time"

	"github.com/scylladb/go-set/strset"

	"github.com/bonial-oss/kev-tracker/internal/types"
)

// Filter selects records. Zero-valued fields do not restrict the result.
type Filter struct {
	// From and To bound dateAdded, both inclusive.
	From *time.Time
	To   *time.Time
	// Vendors matches vendorProject exactly.
	Vendors []string
	// Search is matched case-insensitively against every text field.
	Search         string
	MinEPSS        float64
	MinCVSS        float64
	RansomwareOnly bool
}

// Apply returns the matching records in their original order.
func (f Filter) Apply(records []types.Record) []types.Record {
	var vendors *strset.Set
	if len(f.Vendors) > 0 {
		vendors = strset.New(f.Vendors...)
	}
	needle := strings.ToLower(strings.TrimSpace(f.Search))

	var from, to time.Time
	if f.From != nil {
		from = types.NewDate(*f.From).Time
	}
	if f.To != nil {
		to = types.NewDate(*f.To).Time
	}

	out := make([]types.Record, 0, len(records))
	for _, rec := range records {
		if f.From != nil && (rec.DateAdded.IsZero() || rec.DateAdded.Before(from)) {
			continue
		}
		if f.To != nil && (rec.DateAdded.IsZero() || rec.DateAdded.After(to)) {
			continue
		}
		if vendors != nil && !vendors.Has(rec.VendorProject) {
			continue
		}
		if f.RansomwareOnly && !rec.RansomwareUse() {
			continue
		}
		if rec.EPSSValue() < f.MinEPSS || rec.CVSSValue() < f.MinCVSS {
			continue
		}
		if needle != "" && !matches(rec, needle) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func matches(rec types.Record, needle string) bool {
	fields := []string{
		rec.CVEID,
		rec.VendorProject,
		rec.Product,
		rec.VulnerabilityName,
		rec.DateAdded.String(),
		rec.ShortDescription,
		rec.RequiredAction,
		rec.DueDate.String(),
		rec.KnownRansomwareCampaignUse,
		rec.Notes,
	}
	fields = append(fields, rec.CWEs...)
	for _, s := range fields {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
