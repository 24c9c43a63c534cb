// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bonial-oss/kev-tracker/internal/config"
	"github.com/bonial-oss/kev-tracker/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes.
const (
	ExitOK = 0
	// ExitStale means the run failed but cached data was still reported.
	ExitStale = 1
	ExitFatal = 2
)

// ExitError signals a non-zero exit code with an optional message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// app carries state shared by all subcommands. It is populated by the root
// command before any subcommand runs.
type app struct {
	v          *viper.Viper
	configPath string
	fs         afero.Fs
	stdout     io.Writer
	stderr     io.Writer

	cfg *config.Config
	log *logrus.Logger
}

// flagBindings maps flags to configuration keys. Flags only defined on some
// subcommands are bound when that subcommand runs.
var flagBindings = map[string]string{
	"cache-path":        "cache.path",
	"archive-dir":       "cache.archive_dir",
	"feed-url":          "feed.url",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"timeout":           "http.timeout",
	"nvd-min-interval":  "nvd.min_interval",
	"pace-only-on-miss": "nvd.pace_only_on_miss",
	"listen":            "watch.listen",
	"interval":          "watch.interval",
}

// NewRootCommand creates the root cobra command with all subcommands.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{
		v:      config.NewViper(),
		fs:     afero.NewOsFs(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	})
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     config.Name,
		Short:   "Track the CISA Known Exploited Vulnerabilities catalog enriched with EPSS and CVSS scores",
		Version: Version,
		Long: `kev-tracker keeps a local, enriched copy of the CISA Known Exploited
Vulnerabilities (KEV) catalog. New catalog entries are scored once with their
EPSS exploitation probability and NVD CVSS base score; earlier entries are
reused from the cache.

Usage:
  kev-tracker sync
  kev-tracker list --vendor Microsoft --sort epss
  kev-tracker watch --listen :8084`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	flags.String("cache-path", "", "Location of the cache document")
	flags.String("archive-dir", "", "Directory for superseded cache documents (default: <cache dir>/Legacy)")
	flags.String("feed-url", "", "KEV catalog URL")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "Log format: text, json")
	flags.Duration("timeout", 0, "HTTP timeout per request")
	flags.Duration("nvd-min-interval", 0, "Minimum spacing between NVD requests")
	flags.Bool("pace-only-on-miss", false, "Only space NVD requests after lookups without a score")

	cmd.AddCommand(
		newSyncCommand(a),
		newListCommand(a),
		newSummaryCommand(a),
		newStatusCommand(a),
		newWatchCommand(a),
	)
	return cmd
}

// setup binds flags, loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := bindFlags(a.v, cmd.Flags(), flagBindings); err != nil {
		return err
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return &ExitError{Code: ExitFatal, Message: err.Error()}
	}
	log, err := logging.New(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return &ExitError{Code: ExitFatal, Message: err.Error()}
	}

	a.cfg = cfg
	a.log = log
	log.WithField("command", cmd.Name()).Debugf("configuration:\n%s", cfg)
	return nil
}

// bindFlags binds each named flag present in flags to its config key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for name, key := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}
	return nil
}

// openOutput returns the writer for the -o flag. The returned function
// closes the file, if one was opened.
func (a *app) openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return a.stdout, func() error { return nil }, nil
	}
	f, err := a.fs.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}
