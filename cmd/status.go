// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/kev-tracker/internal/cache"
	"github.com/bonial-oss/kev-tracker/internal/output"
	"github.com/bonial-oss/kev-tracker/internal/reconcile"
)

func newStatusCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Describe the local cache and archive without contacting the feed",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runStatus(format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json")
	return cmd
}

func (a *app) runStatus(format string) error {
	if err := validateFormat(format, formatTable, formatJSON); err != nil {
		return err
	}
	c := reconcile.NewFromConfig(a.cfg, a.fs, nil, a.log)

	st := output.Status{
		CachePath:  c.Store.Path(),
		ArchiveDir: a.cfg.Cache.ArchiveDir,
	}

	// Read size first: loading a corrupt file moves it aside.
	info, err := c.Store.Info()
	switch {
	case err == nil:
		st.SizeBytes = info.Size
	case !errors.Is(err, os.ErrNotExist):
		a.log.WithError(err).Warn("could not stat cache file")
	}

	res := c.Store.Load()
	st.CacheState = res.Status.String()
	if res.Status == cache.StatusLoaded {
		st.CatalogVersion = res.Snapshot.CatalogVersion
		st.SnapshotTime = res.Snapshot.SnapshotTime
		st.Records = len(res.Snapshot.Records)
	}
	if res.QuarantinePath != "" {
		st.CacheState += " (moved to " + res.QuarantinePath + ")"
	}

	entries, err := c.Archive.List()
	if err != nil {
		a.log.WithError(err).Warn("could not list archive")
	}
	st.ArchiveEntries = len(entries)

	if format == formatJSON {
		return output.WriteJSON(a.stdout, st)
	}
	return output.WriteStatus(a.stdout, st, output.TableConfig{IsTerminal: output.IsOutputToTerminal(a.stdout)})
}
