// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/kev-tracker/internal/output"
	"github.com/bonial-oss/kev-tracker/internal/query"
)

type summaryReport struct {
	CatalogVersion string    `json:"catalogVersion"`
	SnapshotTime   time.Time `json:"snapshotTime"`
	Stale          bool      `json:"stale,omitempty"`
	query.Summary
}

func newSummaryCommand(a *app) *cobra.Command {
	var (
		src    source
		format string
		top    int
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show catalog totals and the most affected vendors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSummary(cmd.Context(), src, format, top)
		},
	}
	src.addFlags(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json")
	cmd.Flags().IntVar(&top, "top", 5, "Number of vendors to show (-1 for all)")
	return cmd
}

func (a *app) runSummary(ctx context.Context, src source, format string, top int) error {
	if err := validateFormat(format, formatTable, formatJSON); err != nil {
		return err
	}
	l, err := a.loadSnapshot(ctx, src)
	if err != nil {
		return err
	}

	s := query.Summarize(l.snapshot.Records, time.Now(), top)
	if format == formatJSON {
		err = output.WriteJSON(a.stdout, summaryReport{
			CatalogVersion: l.snapshot.CatalogVersion,
			SnapshotTime:   l.snapshot.SnapshotTime,
			Stale:          l.stale,
			Summary:        s,
		})
	} else {
		err = output.WriteSummary(a.stdout, l.snapshot.CatalogVersion, s, output.TableConfig{
			IsTerminal: output.IsOutputToTerminal(a.stdout),
		})
	}
	if err != nil {
		return err
	}
	return exitFor(l)
}
