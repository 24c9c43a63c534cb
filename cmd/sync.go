// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/kev-tracker/internal/output"
	"github.com/bonial-oss/kev-tracker/internal/reconcile"
)

// syncOutcome is the printable result of one sync.
type syncOutcome struct {
	RunID           string `json:"runID,omitempty"`
	Outcome         string `json:"outcome"`
	CatalogVersion  string `json:"catalogVersion"`
	PreviousVersion string `json:"previousVersion,omitempty"`
	Cache           string `json:"cache"`
	Added           int    `json:"added"`
	Records         int    `json:"records"`
	EPSSMisses      int    `json:"epssMisses"`
	CVSSMisses      int    `json:"cvssMisses"`
	Error           string `json:"error,omitempty"`
}

func newSyncCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the local cache up to date with the KEV catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSync(cmd.Context(), format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json")
	return cmd
}

func (a *app) runSync(ctx context.Context, format string) error {
	if err := validateFormat(format, formatText, formatJSON); err != nil {
		return err
	}

	c := reconcile.NewFromConfig(a.cfg, a.fs, nil, a.log)
	res, err := c.Engine.RunOrCached(ctx)
	if res == nil {
		return &ExitError{Code: ExitFatal, Message: fmt.Sprintf("sync failed: %v", err)}
	}

	out := newSyncOutcome(res, err)
	if format == formatJSON {
		if werr := output.WriteJSON(a.stdout, out); werr != nil {
			return werr
		}
	} else {
		writeSyncText(a, out)
	}

	if err != nil {
		return &ExitError{Code: ExitStale, Message: err.Error()}
	}
	return nil
}

func newSyncOutcome(res *reconcile.Result, err error) syncOutcome {
	out := syncOutcome{
		RunID:           res.RunID,
		CatalogVersion:  res.Snapshot.CatalogVersion,
		PreviousVersion: res.PreviousVersion,
		Cache:           res.CacheStatus.String(),
		Added:           res.Delta,
		Records:         len(res.Snapshot.Records),
		EPSSMisses:      res.Enrichment.EPSSMisses,
		CVSSMisses:      res.Enrichment.CVSSMisses,
	}
	switch {
	case res.Stale:
		out.Outcome = "stale"
	case err != nil:
		out.Outcome = "unsaved"
	case res.Updated:
		out.Outcome = "updated"
	default:
		out.Outcome = "up-to-date"
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func writeSyncText(a *app, out syncOutcome) {
	w := a.stdout
	switch out.Outcome {
	case "up-to-date":
		fmt.Fprintf(w, "Catalog %s is up to date (%d records)\n", out.CatalogVersion, out.Records)
	case "stale":
		fmt.Fprintf(w, "Feed unavailable, using cached catalog %s (%d records)\n", out.CatalogVersion, out.Records)
	default:
		if out.PreviousVersion == "" {
			fmt.Fprintf(w, "Catalog %s loaded: %d records\n", out.CatalogVersion, out.Records)
		} else {
			fmt.Fprintf(w, "Catalog %s -> %s: %d new, %d total\n", out.PreviousVersion, out.CatalogVersion, out.Added, out.Records)
		}
		if out.EPSSMisses > 0 || out.CVSSMisses > 0 {
			fmt.Fprintf(w, "Scores unavailable: EPSS %d, CVSS %d (stored as 0)\n", out.EPSSMisses, out.CVSSMisses)
		}
		if out.Outcome == "unsaved" {
			fmt.Fprintln(w, "Warning: the cache could not be written, the next sync will repeat this update")
		}
	}
}
