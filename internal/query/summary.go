// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"sort"
	"time"

	"github.com/bonial-oss/kev-tracker/internal/types"
)

// VendorCount is the number of records attributed to one vendor.
type VendorCount struct {
	Vendor string `json:"vendor"`
	Count  int    `json:"count"`
}

// Summary holds the dashboard counters for a set of records.
type Summary struct {
	Total int `json:"total"`
	// Unresolved counts records whose due date has not passed yet.
	Unresolved     int           `json:"unresolved"`
	RansomwareUse  int           `json:"ransomwareUse"`
	TopVendors     []VendorCount `json:"topVendors"`
	MeanEPSS       float64       `json:"meanEPSS"`
	MeanCVSS       float64       `json:"meanCVSS"`
	NewestAddition types.Date    `json:"newestAddition"`
}

// Summarize computes counters over records as of now. At most topN vendors
// are listed, ordered by count and then by name.
func Summarize(records []types.Record, now time.Time, topN int) Summary {
	s := Summary{Total: len(records)}
	today := types.NewDate(now)

	byVendor := make(map[string]int)
	var epssSum, cvssSum float64
	for _, rec := range records {
		if rec.DueDate.After(today.Time) {
			s.Unresolved++
		}
		if rec.RansomwareUse() {
			s.RansomwareUse++
		}
		if rec.DateAdded.After(s.NewestAddition.Time) {
			s.NewestAddition = rec.DateAdded
		}
		byVendor[rec.VendorProject]++
		epssSum += rec.EPSSValue()
		cvssSum += rec.CVSSValue()
	}
	if s.Total > 0 {
		s.MeanEPSS = epssSum / float64(s.Total)
		s.MeanCVSS = cvssSum / float64(s.Total)
	}

	s.TopVendors = make([]VendorCount, 0, len(byVendor))
	for vendor, n := range byVendor {
		s.TopVendors = append(s.TopVendors, VendorCount{Vendor: vendor, Count: n})
	}
	sort.Slice(s.TopVendors, func(i, j int) bool {
		a, b := s.TopVendors[i], s.TopVendors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Vendor < b.Vendor
	})
	if topN >= 0 && len(s.TopVendors) > topN {
		s.TopVendors = s.TopVendors[:topN]
	}
	return s
}
