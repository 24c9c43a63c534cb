// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	aqtable "github.com/aquasecurity/table"
	"github.com/aquasecurity/tml"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bonial-oss/kev-tracker/internal/enricher"
	"github.com/bonial-oss/kev-tracker/internal/query"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const maxTitleWords = 12

// TableConfig controls how tables are rendered.
type TableConfig struct {
	IsTerminal bool // true when output goes to a terminal (enables ANSI styling)
	ShowURLs   bool // append reference links below the vulnerability name
	// Now is used for relative ages; zero means time.Now.
	Now time.Time
}

func (c TableConfig) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// IsOutputToTerminal returns true if the writer is stdout connected to a
// character device (TTY).
func IsOutputToTerminal(output io.Writer) bool {
	return output == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
}

// WriteTable writes the records of a snapshot as a table, preceded by the
// catalog version and a severity summary.
func WriteTable(w io.Writer, snap *types.Snapshot, records []types.Record, cfg TableConfig) error {
	title := "KEV catalog " + snap.CatalogVersion
	if !snap.SnapshotTime.IsZero() {
		title += fmt.Sprintf(" (fetched %s)", humanize.RelTime(snap.SnapshotTime, cfg.now(), "ago", "from now"))
	}
	writeTitle(w, title, cfg.IsTerminal)
	fmt.Fprintln(w, severitySummary(records))
	fmt.Fprintln(w)

	tw := newTableWriter(w, cfg.IsTerminal)
	tw.SetHeaders("Vulnerability", "Vendor", "Product", "Severity", "Risk", "EPSS", "CVSS", "Ransomware", "Added", "Due", "Name")
	for i := range records {
		tw.AddRow(rowCells(&records[i], cfg)...)
	}
	tw.Render()
	return nil
}

// WriteSummary renders dashboard counters and the top vendors.
func WriteSummary(w io.Writer, catalogVersion string, s query.Summary, cfg TableConfig) error {
	writeTitle(w, "KEV catalog "+catalogVersion, cfg.IsTerminal)

	tw := newTableWriter(w, cfg.IsTerminal)
	tw.SetHeaders("Metric", "Value")
	tw.AddRow("Total vulnerabilities", humanize.Comma(int64(s.Total)))
	tw.AddRow("Not yet due", humanize.Comma(int64(s.Unresolved)))
	tw.AddRow("Known ransomware use", humanize.Comma(int64(s.RansomwareUse)))
	tw.AddRow("Mean EPSS", fmt.Sprintf("%.3f", s.MeanEPSS))
	tw.AddRow("Mean CVSS", fmt.Sprintf("%.1f", s.MeanCVSS))
	tw.AddRow("Newest addition", dateCell(s.NewestAddition))
	tw.Render()

	if len(s.TopVendors) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	vt := newTableWriter(w, cfg.IsTerminal)
	vt.SetHeaders("Vendor", "Vulnerabilities")
	for _, v := range s.TopVendors {
		vt.AddRow(v.Vendor, strconv.Itoa(v.Count))
	}
	vt.Render()
	return nil
}

// Status describes the local cache for the status command.
type Status struct {
	CachePath      string    `json:"cachePath"`
	CacheState     string    `json:"cacheState"`
	CatalogVersion string    `json:"catalogVersion,omitempty"`
	Records        int       `json:"records"`
	SnapshotTime   time.Time `json:"snapshotTime,omitempty"`
	SizeBytes      int64     `json:"sizeBytes"`
	ArchiveDir     string    `json:"archiveDir"`
	ArchiveEntries int       `json:"archiveEntries"`
}

// WriteStatus renders cache status as a two column table.
func WriteStatus(w io.Writer, st Status, cfg TableConfig) error {
	tw := newTableWriter(w, cfg.IsTerminal)
	tw.SetHeaders("Property", "Value")
	tw.AddRow("Cache file", st.CachePath)
	tw.AddRow("State", st.CacheState)
	if st.CatalogVersion != "" {
		tw.AddRow("Catalog version", st.CatalogVersion)
		tw.AddRow("Records", humanize.Comma(int64(st.Records)))
	}
	if !st.SnapshotTime.IsZero() {
		tw.AddRow("Snapshot age", humanize.RelTime(st.SnapshotTime, cfg.now(), "ago", "from now"))
	}
	if st.SizeBytes > 0 {
		tw.AddRow("Size", humanize.Bytes(uint64(st.SizeBytes)))
	}
	tw.AddRow("Archive", fmt.Sprintf("%s (%d entries)", st.ArchiveDir, st.ArchiveEntries))
	tw.Render()
	return nil
}

func writeTitle(w io.Writer, title string, isTerminal bool) {
	if isTerminal {
		_ = tml.Fprintf(w, "<underline><bold>%s</bold></underline>\n", title)
		return
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", utf8.RuneCountInString(title)))
}

// newTableWriter creates a table writer with borders and row separators.
// When isTerminal is true, header and line styles use ANSI formatting.
func newTableWriter(w io.Writer, isTerminal bool) *aqtable.Table {
	tw := aqtable.New(w)
	if isTerminal {
		tw.SetHeaderStyle(aqtable.StyleBold)
		tw.SetLineStyle(aqtable.StyleDim)
	}
	tw.SetBorders(true)
	tw.SetRowLines(true)
	return tw
}

func rowCells(rec *types.Record, cfg TableConfig) []string {
	severity := enricher.Severity(rec.CVSSValue())
	if cfg.IsTerminal {
		severity = colorizeSeverity(severity)
	}
	ransomware := "NO"
	if rec.RansomwareUse() {
		ransomware = "YES"
		if cfg.IsTerminal {
			ransomware = color.New(color.FgRed, color.Bold).Sprint(ransomware)
		}
	}
	return []string{
		rec.CVEID,
		rec.VendorProject,
		rec.Product,
		severity,
		fmt.Sprintf("%.1f", enricher.RiskScore(*rec)),
		formatScore(rec.EPSS, "%.3f"),
		formatScore(rec.CVSS, "%.1f"),
		ransomware,
		dateCell(rec.DateAdded),
		dateCell(rec.DueDate),
		nameCell(rec, cfg),
	}
}

// severitySummary returns a line like:
// Total: 5 (UNKNOWN: 0, LOW: 2, MEDIUM: 1, HIGH: 1, CRITICAL: 1)
func severitySummary(records []types.Record) string {
	counts := map[string]int{}
	for i := range records {
		counts[enricher.Severity(records[i].CVSSValue())]++
	}
	return fmt.Sprintf("Total: %d (UNKNOWN: %d, LOW: %d, MEDIUM: %d, HIGH: %d, CRITICAL: %d)",
		len(records),
		counts[enricher.SeverityUnknown], counts[enricher.SeverityLow], counts[enricher.SeverityMedium],
		counts[enricher.SeverityHigh], counts[enricher.SeverityCritical])
}

var severityColors = map[string]func(a ...any) string{
	enricher.SeverityUnknown:  color.New(color.FgCyan).SprintFunc(),
	enricher.SeverityLow:      color.New(color.FgBlue).SprintFunc(),
	enricher.SeverityMedium:   color.New(color.FgYellow).SprintFunc(),
	enricher.SeverityHigh:     color.New(color.FgHiRed).SprintFunc(),
	enricher.SeverityCritical: color.New(color.FgRed).SprintFunc(),
}

// colorizeSeverity returns the severity string wrapped in ANSI color codes.
func colorizeSeverity(severity string) string {
	if fn, ok := severityColors[strings.ToUpper(severity)]; ok {
		return fn(severity)
	}
	return severity
}

// nameCell truncates the vulnerability name to maxTitleWords words and
// optionally appends the reference links, one per line.
func nameCell(rec *types.Record, cfg TableConfig) string {
	name := truncateWords(rec.VulnerabilityName, maxTitleWords)
	if !cfg.ShowURLs {
		return name
	}
	lines := []string{}
	if name != "" {
		lines = append(lines, name)
	}
	for _, u := range rec.URLs() {
		if cfg.IsTerminal {
			u = tml.Sprintf("<blue>%s</blue>", u)
		}
		lines = append(lines, u)
	}
	return strings.Join(lines, "\n")
}

// truncateWords limits text to maxWords words, appending "..." if truncated.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func formatScore(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func dateCell(d types.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}
