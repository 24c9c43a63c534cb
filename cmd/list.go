// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/kev-tracker/internal/output"
	"github.com/bonial-oss/kev-tracker/internal/query"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

type listOptions struct {
	source
	format         string
	outputFile     string
	sortBy         string
	vendors        []string
	from           string
	to             string
	search         string
	minEPSS        float64
	minCVSS        float64
	ransomwareOnly bool
	showURLs       bool
}

func newListCommand(a *app) *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries with their scores",
		Example: `  kev-tracker list --vendor Microsoft --from 2024-01-01
  kev-tracker list --ransomware-only --sort cvss
  kev-tracker list --search "remote code" --format json -o kev.json
  kev-tracker list --file ~/.local/share/kev-tracker/Legacy/KEV_20240101.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runList(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	opts.addFlags(flags)
	flags.StringVar(&opts.format, "format", formatTable, "Output format: table, json")
	flags.StringVarP(&opts.outputFile, "output", "o", "", "Output file path (default: stdout)")
	flags.StringVar(&opts.sortBy, "sort", query.SortRisk, "Sort by: "+strings.Join(query.SortKeys, ", "))
	flags.StringSliceVar(&opts.vendors, "vendor", nil, "Only show these vendors (repeatable)")
	flags.StringVar(&opts.from, "from", "", "Only show entries added on or after this date (YYYY-MM-DD)")
	flags.StringVar(&opts.to, "to", "", "Only show entries added on or before this date (YYYY-MM-DD)")
	flags.StringVarP(&opts.search, "search", "q", "", "Case-insensitive text search")
	flags.Float64Var(&opts.minEPSS, "min-epss", 0, "Minimum EPSS probability")
	flags.Float64Var(&opts.minCVSS, "min-cvss", 0, "Minimum CVSS base score")
	flags.BoolVar(&opts.ransomwareOnly, "ransomware-only", false, "Only show entries with known ransomware use")
	flags.BoolVar(&opts.showURLs, "show-urls", false, "Show reference links in the table")
	return cmd
}

func (o listOptions) filter() (query.Filter, error) {
	f := query.Filter{
		Vendors:        o.vendors,
		Search:         o.search,
		MinEPSS:        o.minEPSS,
		MinCVSS:        o.minCVSS,
		RansomwareOnly: o.ransomwareOnly,
	}
	var err error
	if f.From, err = dateFlag("from", o.from); err != nil {
		return f, err
	}
	if f.To, err = dateFlag("to", o.to); err != nil {
		return f, err
	}
	return f, nil
}

func dateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := types.ParseDate(value)
	if err != nil {
		return nil, &ExitError{Code: ExitFatal, Message: fmt.Sprintf("--%s: %v", name, err)}
	}
	t := d.Time
	return &t, nil
}

func (a *app) runList(ctx context.Context, opts listOptions) error {
	if err := validateFormat(opts.format, formatTable, formatJSON); err != nil {
		return err
	}
	f, err := opts.filter()
	if err != nil {
		return err
	}

	l, err := a.loadSnapshot(ctx, opts.source)
	if err != nil {
		return err
	}

	records := f.Apply(l.snapshot.Records)
	if err := query.Sort(records, opts.sortBy); err != nil {
		return &ExitError{Code: ExitFatal, Message: err.Error()}
	}

	w, closeFn, err := a.openOutput(opts.outputFile)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	switch opts.format {
	case formatJSON:
		err = output.WriteJSON(w, output.NewReport(l.snapshot, records, l.stale))
	default:
		err = output.WriteTable(w, l.snapshot, records, output.TableConfig{
			IsTerminal: output.IsOutputToTerminal(w),
			ShowURLs:   opts.showURLs,
		})
	}
	if err != nil {
		return err
	}
	if err := closeFn(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	return exitFor(l)
}
