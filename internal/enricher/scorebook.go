// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package enricher

import "github.com/bonial-oss/kev-tracker/internal/types"

// Scores are the enrichment results for one CVE.
type Scores struct {
	EPSS *float64
	CVSS *float64
}

// ScoreBook is a write-once map of CVE ID to scores. Once a CVE has been
// scored its entry is never replaced, so every CVE hits the upstream
// services at most once over the lifetime of the cache.
type ScoreBook struct {
	scores map[string]Scores
}

// NewScoreBook returns an empty book.
func NewScoreBook() *ScoreBook {
	return &ScoreBook{scores: make(map[string]Scores)}
}

// ScoreBookFrom seeds a book with the scores of previously merged records.
func ScoreBookFrom(records []types.Record) *ScoreBook {
	b := &ScoreBook{scores: make(map[string]Scores, len(records))}
	for _, rec := range records {
		b.Put(rec.CVEID, Scores{EPSS: rec.EPSS, CVSS: rec.CVSS})
	}
	return b
}

// Has reports whether cveID has been scored.
func (b *ScoreBook) Has(cveID string) bool {
	_, ok := b.scores[cveID]
	return ok
}

// Get returns the scores recorded for cveID.
func (b *ScoreBook) Get(cveID string) (Scores, bool) {
	s, ok := b.scores[cveID]
	return s, ok
}

// Put records scores for cveID unless it is already present. It reports
// whether the entry was written.
func (b *ScoreBook) Put(cveID string, s Scores) bool {
	if _, ok := b.scores[cveID]; ok {
		return false
	}
	b.scores[cveID] = s
	return true
}

// Len returns the number of scored CVEs.
func (b *ScoreBook) Len() int {
	return len(b.scores)
}
