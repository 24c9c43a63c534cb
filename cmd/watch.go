// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bonial-oss/kev-tracker/internal/cache"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/reconcile"
	"github.com/bonial-oss/kev-tracker/internal/server"
	"github.com/bonial-oss/kev-tracker/internal/telemetry"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const shutdownTimeout = 10 * time.Second

// reconciler is the part of reconcile.Engine the watch loop needs.
type reconciler interface {
	RunOrCached(ctx context.Context) (*reconcile.Result, error)
}

type publisher interface {
	Publish(snap *types.Snapshot, stale bool)
}

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile periodically and serve the snapshot over HTTP",
		Long: `watch runs a reconcile immediately and then every --interval. The latest
snapshot is served read-only under /api/v1, Prometheus metrics under /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ln, err := net.Listen("tcp", a.cfg.Watch.Listen)
			if err != nil {
				return &ExitError{Code: ExitFatal, Message: fmt.Sprintf("listening on %s: %v", a.cfg.Watch.Listen, err)}
			}
			return a.runWatch(cmd.Context(), ln)
		},
	}
	cmd.Flags().String("listen", "", "Address of the HTTP API (default :8084)")
	cmd.Flags().Duration("interval", 0, "Time between reconcile runs (default 12h)")
	return cmd
}

// runWatch serves on ln until ctx is cancelled.
func (a *app) runWatch(ctx context.Context, ln net.Listener) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)
	c := reconcile.NewFromConfig(a.cfg, a.fs, metrics, a.log)
	srv := server.New(reg, a.log)

	// Serve the previous snapshot until the first run completes.
	if res := c.Store.Load(); res.Status == cache.StatusLoaded {
		srv.Publish(res.Snapshot, true)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("addr", ln.Addr().String()).Info("serving KEV API")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		watchLoop(gctx, c.Engine, srv, a.cfg.Watch.Interval, a.log)
		return nil
	})

	if err := g.Wait(); err != nil {
		return &ExitError{Code: ExitFatal, Message: err.Error()}
	}
	a.log.Info("watch stopped")
	return nil
}

// watchLoop reconciles immediately and then every interval until ctx is
// done. Runs never overlap; a failed run keeps the last snapshot published.
func watchLoop(ctx context.Context, r reconciler, p publisher, interval time.Duration, log logrus.FieldLogger) {
	log = logging.OrDiscard(log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := r.RunOrCached(ctx)
		if res != nil {
			p.Publish(res.Snapshot, res.Stale)
		}
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			log.WithError(err).Error("reconcile failed")
		case res.Updated:
			log.WithFields(logrus.Fields{
				"catalog_version": res.Snapshot.CatalogVersion,
				"added":           res.Delta,
			}).Info("catalog updated")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
