// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bonial-oss/kev-tracker/internal/enricher"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

// Report is the JSON document written by the list command.
type Report struct {
	CatalogVersion  string         `json:"catalogVersion"`
	SnapshotTime    time.Time      `json:"snapshotTime"`
	Stale           bool           `json:"stale,omitempty"`
	Count           int            `json:"count"`
	Vulnerabilities []ReportRecord `json:"vulnerabilities"`
}

// ReportRecord is a record together with its derived scores.
type ReportRecord struct {
	types.Record
	RiskScore float64 `json:"riskScore"`
	Severity  string  `json:"severity"`
}

// NewReport builds a Report for records taken from snap.
func NewReport(snap *types.Snapshot, records []types.Record, stale bool) Report {
	r := Report{
		CatalogVersion:  snap.CatalogVersion,
		SnapshotTime:    snap.SnapshotTime,
		Stale:           stale,
		Count:           len(records),
		Vulnerabilities: make([]ReportRecord, 0, len(records)),
	}
	for _, rec := range records {
		r.Vulnerabilities = append(r.Vulnerabilities, ReportRecord{
			Record:    rec,
			RiskScore: enricher.RiskScore(rec),
			Severity:  enricher.Severity(rec.CVSSValue()),
		})
	}
	return r
}

func WriteJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
