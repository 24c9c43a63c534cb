// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package enricher

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const (
	SourceEPSS = "epss"
	SourceNVD  = "nvd"
)

// LikelihoodSource looks up the EPSS probability for a CVE.
type LikelihoodSource interface {
	Likelihood(ctx context.Context, cveID string) (*float64, error)
}

// SeveritySource looks up the CVSS base score for a CVE.
type SeveritySource interface {
	Severity(ctx context.Context, cveID string) (*float64, error)
}

// Observer is notified about every upstream lookup.
type Observer interface {
	ObserveLookup(source string, hit bool)
}

// Enricher attaches EPSS and CVSS scores to records.
type Enricher struct {
	likelihood LikelihoodSource
	severity   SeveritySource
	observer   Observer
	log        logrus.FieldLogger
}

// Stats summarizes one Enrich call.
type Stats struct {
	// Reused counts records whose scores came from the score book.
	Reused     int
	Fetched    int
	EPSSMisses int
	CVSSMisses int
}

// New creates a new Enricher with the given score sources. observer and
// log may be nil.
func New(likelihood LikelihoodSource, severity SeveritySource, observer Observer, log logrus.FieldLogger) *Enricher {
	return &Enricher{
		likelihood: likelihood,
		severity:   severity,
		observer:   observer,
		log:        logging.OrDiscard(log),
	}
}

// Enrich scores records in place, one at a time and in order. Records
// already present in book keep the scores recorded there and cause no
// upstream calls; newly scored records are added to book. A lookup that
// fails or finds nothing stores a score of zero and never aborts the batch.
// The only error returned is the context's, in which case records past the
// cancellation point are left unscored.
func (e *Enricher) Enrich(ctx context.Context, records []types.Record, book *ScoreBook) (Stats, error) {
	var stats Stats
	for i := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec := &records[i]

		if scores, ok := book.Get(rec.CVEID); ok {
			rec.EPSS, rec.CVSS = copyScore(scores.EPSS), copyScore(scores.CVSS)
			stats.Reused++
			continue
		}

		epssScore := e.lookup(ctx, SourceEPSS, rec.CVEID, e.likelihood.Likelihood)
		cvssScore := e.lookup(ctx, SourceNVD, rec.CVEID, e.severity.Severity)
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if epssScore == nil {
			stats.EPSSMisses++
		}
		if cvssScore == nil {
			stats.CVSSMisses++
		}

		rec.EPSS = orZero(epssScore)
		rec.CVSS = orZero(cvssScore)
		book.Put(rec.CVEID, Scores{EPSS: copyScore(rec.EPSS), CVSS: copyScore(rec.CVSS)})
		stats.Fetched++
	}
	return stats, nil
}

func (e *Enricher) lookup(ctx context.Context, source, cveID string, fn func(context.Context, string) (*float64, error)) *float64 {
	score, err := fn(ctx, cveID)
	if err != nil {
		score = nil
		if ctx.Err() == nil {
			e.log.WithError(err).WithFields(logrus.Fields{"cve": cveID, "source": source}).Debug("score lookup failed")
		}
	}
	if e.observer != nil && ctx.Err() == nil {
		e.observer.ObserveLookup(source, score != nil)
	}
	return score
}

// orZero normalizes an absent score to an explicit zero.
func orZero(v *float64) *float64 {
	if v == nil {
		zero := 0.0
		return &zero
	}
	return v
}

func copyScore(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
