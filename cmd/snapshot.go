// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/bonial-oss/kev-tracker/internal/cache"
	"github.com/bonial-oss/kev-tracker/internal/input"
	"github.com/bonial-oss/kev-tracker/internal/reconcile"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatText  = "text"
)

// loaded is a snapshot ready for display.
type loaded struct {
	snapshot *types.Snapshot
	// stale is set when the snapshot could not be brought up to date.
	stale bool
	// runErr is the reconcile failure behind a stale or unsaved snapshot.
	runErr error
}

// source selects where a command reads its snapshot from.
type source struct {
	offline bool
	// file is a KEV catalog or a cache/archive document to read instead.
	file string
}

func (s *source) addFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&s.offline, "offline", false, "Use the cached snapshot without contacting the feed")
	flags.StringVarP(&s.file, "file", "f", "", "Read a KEV catalog or archived document instead of the cache")
}

// loadSnapshot returns the snapshot to display. A file is read as is;
// offline mode reads only the cache; otherwise a reconcile runs first and
// falls back to the cache when it fails.
func (a *app) loadSnapshot(ctx context.Context, src source) (*loaded, error) {
	if src.file != "" {
		return a.loadFile(src.file)
	}

	c := reconcile.NewFromConfig(a.cfg, a.fs, nil, a.log)

	if src.offline {
		res := c.Store.Load()
		switch res.Status {
		case cache.StatusLoaded:
			return &loaded{snapshot: res.Snapshot}, nil
		case cache.StatusCorrupt:
			return nil, &ExitError{Code: ExitFatal, Message: fmt.Sprintf("cache is corrupt: %v", res.Err)}
		default:
			return nil, &ExitError{Code: ExitFatal, Message: fmt.Sprintf("no cached data at %s, run sync first", c.Store.Path())}
		}
	}

	res, err := c.Engine.RunOrCached(ctx)
	if res == nil {
		return nil, &ExitError{Code: ExitFatal, Message: fmt.Sprintf("no data available: %v", err)}
	}
	if err != nil {
		a.log.WithError(err).Warn("reconcile failed, showing the last cached snapshot")
	}
	return &loaded{snapshot: res.Snapshot, stale: res.Stale, runErr: err}, nil
}

func (a *app) loadFile(path string) (*loaded, error) {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, &ExitError{Code: ExitFatal, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	res, err := input.Parse(data)
	if err != nil {
		return nil, &ExitError{Code: ExitFatal, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	a.log.WithFields(logrus.Fields{
		"path":            path,
		"format":          res.Format.String(),
		"catalog_version": res.Snapshot.CatalogVersion,
	}).Debug("loaded snapshot from file")
	return &loaded{snapshot: res.Snapshot}, nil
}

// exitFor turns a reconcile failure that still produced data into exit
// code 1.
func exitFor(l *loaded) error {
	if l.runErr == nil {
		return nil
	}
	if errors.Is(l.runErr, types.ErrPersistence) {
		return &ExitError{Code: ExitStale, Message: fmt.Sprintf("cache not updated: %v", l.runErr)}
	}
	return &ExitError{Code: ExitStale, Message: fmt.Sprintf("data may be outdated: %v", l.runErr)}
}

func validateFormat(format string, allowed ...string) error {
	for _, f := range allowed {
		if format == f {
			return nil
		}
	}
	return &ExitError{Code: ExitFatal, Message: fmt.Sprintf("unsupported output format: %s", format)}
}
