// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"regexp"
	"strings"
	"time"

	"github.com/scylladb/go-set/strset"
)

// Record is a single known exploited vulnerability together with the
// scores it was enriched with. EPSS and CVSS are nil until enrichment has
// run for the record.
type Record struct {
	CVEID                      string   `json:"cveID"`
	VendorProject              string   `json:"vendorProject"`
	Product                    string   `json:"product"`
	VulnerabilityName          string   `json:"vulnerabilityName"`
	DateAdded                  Date     `json:"dateAdded"`
	ShortDescription           string   `json:"shortDescription"`
	RequiredAction             string   `json:"requiredAction"`
	DueDate                    Date     `json:"dueDate"`
	KnownRansomwareCampaignUse string   `json:"knownRansomwareCampaignUse"`
	Notes                      string   `json:"notes"`
	CWEs                       []string `json:"cwes"`
	EPSS                       *float64 `json:"EPSS"`
	CVSS                       *float64 `json:"CVSS3"`
}

// RansomwareUse reports whether the catalog lists the vulnerability as used
// in ransomware campaigns.
func (r Record) RansomwareUse() bool {
	return strings.EqualFold(r.KnownRansomwareCampaignUse, "known")
}

// EPSSValue returns the likelihood score or 0 when absent.
func (r Record) EPSSValue() float64 {
	if r.EPSS == nil {
		return 0
	}
	return *r.EPSS
}

// CVSSValue returns the severity score or 0 when absent.
func (r Record) CVSSValue() float64 {
	if r.CVSS == nil {
		return 0
	}
	return *r.CVSS
}

var bracketURLPattern = regexp.MustCompile(`\[(https?:\/\/[^\]]+)\]`)

// URLs collects reference links from the notes field and from bracketed
// links in the description and required action, deduplicated in order of
// first appearance.
func (r Record) URLs() []string {
	seen := strset.New()
	var urls []string
	add := func(u string) {
		u = strings.ReplaceAll(u, "\\/", "/")
		if !seen.Has(u) {
			seen.Add(u)
			urls = append(urls, u)
		}
	}

	for _, part := range strings.Split(r.Notes, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "http") {
			add(part)
		}
	}
	for _, text := range []string{r.ShortDescription, r.RequiredAction} {
		for _, match := range bracketURLPattern.FindAllStringSubmatch(text, -1) {
			if len(match) > 1 {
				add(match[1])
			}
		}
	}
	return urls
}

// Snapshot is the full ordered dataset as of one catalog version.
type Snapshot struct {
	CatalogVersion string
	SnapshotTime   time.Time
	Records        []Record
}

// IDs returns the set of vulnerability identifiers in the snapshot.
func (s *Snapshot) IDs() *strset.Set {
	ids := strset.NewWithSize(len(s.Records))
	for i := range s.Records {
		ids.Add(s.Records[i].CVEID)
	}
	return ids
}

// Lookup returns the record for the given CVE ID, or nil if not found.
func (s *Snapshot) Lookup(cveID string) *Record {
	for i := range s.Records {
		if s.Records[i].CVEID == cveID {
			return &s.Records[i]
		}
	}
	return nil
}

// KEVEntry represents a single entry in the CISA KEV catalog JSON.
type KEVEntry struct {
	CVEID                      string   `json:"cveID"`
	VendorProject              string   `json:"vendorProject"`
	Product                    string   `json:"product"`
	VulnerabilityName          string   `json:"vulnerabilityName"`
	DateAdded                  string   `json:"dateAdded"`
	ShortDescription           string   `json:"shortDescription"`
	RequiredAction             string   `json:"requiredAction"`
	DueDate                    string   `json:"dueDate"`
	KnownRansomwareCampaignUse string   `json:"knownRansomwareCampaignUse"`
	Notes                      string   `json:"notes"`
	CWEs                       []string `json:"cwes"`
}

// Record converts the raw catalog entry into an unscored Record.
func (e KEVEntry) Record() (Record, error) {
	added, err := ParseDate(e.DateAdded)
	if err != nil {
		return Record{}, err
	}
	due, err := ParseDate(e.DueDate)
	if err != nil {
		return Record{}, err
	}
	return Record{
		CVEID:                      e.CVEID,
		VendorProject:              e.VendorProject,
		Product:                    e.Product,
		VulnerabilityName:          e.VulnerabilityName,
		DateAdded:                  added,
		ShortDescription:           e.ShortDescription,
		RequiredAction:             e.RequiredAction,
		DueDate:                    due,
		KnownRansomwareCampaignUse: e.KnownRansomwareCampaignUse,
		Notes:                      e.Notes,
		CWEs:                       e.CWEs,
	}, nil
}

// KEVCatalog represents the CISA KEV catalog JSON structure.
// Vulnerabilities is a pointer so a missing list can be told apart from an
// empty one.
type KEVCatalog struct {
	CatalogVersion  string      `json:"catalogVersion"`
	DateReleased    string      `json:"dateReleased"`
	Count           int         `json:"count"`
	Vulnerabilities *[]KEVEntry `json:"vulnerabilities"`
}
