// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package reconcile brings the local cache up to date with the KEV feed,
// enriching only records the cache has not seen before.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scylladb/go-set/strset"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/bonial-oss/kev-tracker/internal/archive"
	"github.com/bonial-oss/kev-tracker/internal/cache"
	"github.com/bonial-oss/kev-tracker/internal/config"
	"github.com/bonial-oss/kev-tracker/internal/datasource/epss"
	"github.com/bonial-oss/kev-tracker/internal/datasource/kev"
	"github.com/bonial-oss/kev-tracker/internal/datasource/nvd"
	"github.com/bonial-oss/kev-tracker/internal/enricher"
	"github.com/bonial-oss/kev-tracker/internal/httpclient"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/telemetry"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

// FeedSource provides the current catalog.
type FeedSource interface {
	Fetch(ctx context.Context) (*kev.Feed, error)
}

// SnapshotStore persists snapshots between runs.
type SnapshotStore interface {
	Load() cache.LoadResult
	Save(snap *types.Snapshot) error
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Snapshot *types.Snapshot
	// Updated is false when the cache already held the feed's version.
	Updated         bool
	PreviousVersion string
	CacheStatus     cache.Status
	// Delta is the number of records added in this run.
	Delta      int
	Enrichment enricher.Stats
	// Stale is set when the feed could not be fetched and Snapshot is the
	// last cached one.
	Stale bool
}

// Engine runs reconciliations. Runs are serialized; a second call to Run
// waits for the first one to finish.
type Engine struct {
	feed     FeedSource
	store    SnapshotStore
	enricher *enricher.Enricher
	metrics  *telemetry.Metrics
	log      logrus.FieldLogger
	now      func() time.Time

	mu sync.Mutex
}

// New creates an Engine from its collaborators. metrics and log may be nil.
func New(feed FeedSource, store SnapshotStore, e *enricher.Enricher, metrics *telemetry.Metrics, log logrus.FieldLogger) *Engine {
	return &Engine{
		feed:     feed,
		store:    store,
		enricher: e,
		metrics:  metrics,
		log:      logging.OrDiscard(log),
		now:      time.Now,
	}
}

// Components are the production collaborators built from a Config.
type Components struct {
	Engine  *Engine
	Store   *cache.Store
	Archive *archive.DirSink
}

// NewFromConfig wires the HTTP clients, cache store and archive described by
// cfg into an Engine.
func NewFromConfig(cfg *config.Config, fs afero.Fs, metrics *telemetry.Metrics, log logrus.FieldLogger) *Components {
	log = logging.OrDiscard(log)
	client := httpclient.New(cfg.HTTP.Timeout)

	feed := kev.NewClient(cfg.Feed.URL, cfg.Feed.FallbackURL, client, log.WithField("source", "kev"))
	likelihood := epss.NewClient(cfg.EPSS.URL, client, log.WithField("source", enricher.SourceEPSS))
	severity := nvd.NewClient(nvd.Options{
		BaseURL:        cfg.NVD.URL,
		APIKey:         cfg.NVD.APIKey,
		MinInterval:    cfg.NVD.MinInterval,
		PaceOnlyOnMiss: cfg.NVD.PaceOnlyOnMiss,
	}, client, log.WithField("source", enricher.SourceNVD))

	sink := archive.NewDirSink(fs, cfg.Cache.ArchiveDir, log)
	store := cache.New(fs, cfg.Cache.Path, sink, log)
	e := enricher.New(likelihood, severity, metrics, log)

	return &Components{
		Engine:  New(feed, store, e, metrics, log),
		Store:   store,
		Archive: sink,
	}
}

// Run fetches the feed and updates the cache when the catalog version has
// changed. Only records missing from the cache are enriched; cached records
// are carried over untouched and new ones are appended in feed order.
//
// Feed failures are returned as is. When saving fails the merged snapshot
// is still returned alongside an error wrapping types.ErrPersistence.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Result{RunID: uuid.NewString()}
	log := e.log.WithField("run_id", res.RunID)

	feed, err := e.feed.Fetch(ctx)
	if err != nil {
		e.metrics.ObserveRun(telemetry.OutcomeFailed, 0, e.now())
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	log = log.WithField("catalog_version", feed.CatalogVersion)

	loaded := e.store.Load()
	res.CacheStatus = loaded.Status
	var prior []types.Record
	if loaded.Status == cache.StatusLoaded {
		res.PreviousVersion = loaded.Snapshot.CatalogVersion
		if loaded.Snapshot.CatalogVersion == feed.CatalogVersion {
			res.Snapshot = loaded.Snapshot
			e.metrics.ObserveRun(telemetry.OutcomeNoop, len(loaded.Snapshot.Records), e.now())
			log.Info("cache is up to date")
			return res, nil
		}
		prior = loaded.Snapshot.Records
	}

	book := enricher.ScoreBookFrom(prior)
	delta := e.delta(log, book, feed.Records)
	res.Delta = len(delta)
	log.WithFields(logrus.Fields{
		"previous_version": res.PreviousVersion,
		"cache":            loaded.Status.String(),
		"delta":            len(delta),
	}).Info("new catalog version, enriching new records")

	stats, err := e.enricher.Enrich(ctx, delta, book)
	res.Enrichment = stats
	if err != nil {
		e.metrics.ObserveRun(telemetry.OutcomeFailed, 0, e.now())
		return nil, fmt.Errorf("enriching records: %w", err)
	}

	merged := make([]types.Record, 0, len(prior)+len(delta))
	merged = append(merged, prior...)
	merged = append(merged, delta...)
	res.Snapshot = &types.Snapshot{
		CatalogVersion: feed.CatalogVersion,
		SnapshotTime:   e.now().UTC(),
		Records:        merged,
	}
	res.Updated = true

	if err := e.store.Save(res.Snapshot); err != nil {
		e.metrics.ObserveRun(telemetry.OutcomeFailed, 0, e.now())
		log.WithError(err).Error("saving cache failed, snapshot not persisted")
		return res, err
	}

	e.metrics.ObserveRun(telemetry.OutcomeUpdated, len(merged), e.now())
	log.WithFields(logrus.Fields{
		"records":     len(merged),
		"epss_misses": stats.EPSSMisses,
		"cvss_misses": stats.CVSSMisses,
	}).Info("cache updated")
	return res, nil
}

// delta returns copies of the feed records that book has not scored yet,
// keeping the first occurrence of any CVE listed more than once.
func (e *Engine) delta(log logrus.FieldLogger, book *enricher.ScoreBook, feed []types.Record) []types.Record {
	seen := strset.NewWithSize(len(feed))
	dups := 0
	var delta []types.Record
	for _, rec := range feed {
		if seen.Has(rec.CVEID) {
			dups++
			continue
		}
		seen.Add(rec.CVEID)
		if book.Has(rec.CVEID) {
			continue
		}
		delta = append(delta, rec)
	}

	if dups > 0 {
		log.WithField("duplicates", dups).Warn("feed lists some CVEs more than once, keeping the first")
	}
	return delta
}

// RunOrCached behaves like Run, but when the run fails before producing a
// snapshot, for example when the feed is unreachable, it falls back to the
// cached snapshot. The run error is still returned and Result.Stale is set.
// Without a usable cache the result is nil.
func (e *Engine) RunOrCached(ctx context.Context) (*Result, error) {
	res, err := e.Run(ctx)
	if err == nil || res != nil {
		return res, err
	}

	loaded := e.store.Load()
	if loaded.Status != cache.StatusLoaded {
		return nil, err
	}
	e.log.WithError(err).WithField("catalog_version", loaded.Snapshot.CatalogVersion).Warn("serving cached snapshot")
	return &Result{
		Snapshot:        loaded.Snapshot,
		PreviousVersion: loaded.Snapshot.CatalogVersion,
		CacheStatus:     loaded.Status,
		Stale:           true,
	}, err
}
