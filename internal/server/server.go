// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the latest snapshot as a read-only JSON API.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bonial-oss/kev-tracker/internal/enricher"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/query"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const defaultTopVendors = 5

// Server serves the most recently published snapshot.
type Server struct {
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
	now      func() time.Time

	mu       sync.RWMutex
	snapshot *types.Snapshot
	stale    bool
}

// New creates a Server. gatherer backs /metrics and may be nil to serve the
// default registry.
func New(gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{gatherer: gatherer, log: logging.OrDiscard(log), now: time.Now}
}

// Publish makes snap the snapshot served to clients. stale marks a snapshot
// served from cache because the last reconcile failed.
func (s *Server) Publish(snap *types.Snapshot, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.stale = stale
}

func (s *Server) current() (*types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.stale
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireSnapshot)
	api.HandleFunc("/vulnerabilities", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/vulnerabilities/{cveID}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) requireSnapshot(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if snap, _ := s.current(); snap == nil {
			s.writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// VulnerabilityView is a record as returned by the API, with its derived
// risk score.
type VulnerabilityView struct {
	types.Record
	RiskScore float64  `json:"riskScore"`
	Severity  string   `json:"severity"`
	URLs      []string `json:"urls,omitempty"`
}

func view(rec types.Record) VulnerabilityView {
	return VulnerabilityView{
		Record:    rec,
		RiskScore: enricher.RiskScore(rec),
		Severity:  enricher.Severity(rec.CVSSValue()),
		URLs:      rec.URLs(),
	}
}

type listResponse struct {
	CatalogVersion  string              `json:"catalogVersion"`
	SnapshotTime    time.Time           `json:"snapshotTime"`
	Stale           bool                `json:"stale"`
	Count           int                 `json:"count"`
	Vulnerabilities []VulnerabilityView `json:"vulnerabilities"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snap, stale := s.current()

	f, sortBy, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records := f.Apply(snap.Records)
	if err := query.Sort(records, sortBy); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := listResponse{
		CatalogVersion:  snap.CatalogVersion,
		SnapshotTime:    snap.SnapshotTime,
		Stale:           stale,
		Count:           len(records),
		Vulnerabilities: make([]VulnerabilityView, 0, len(records)),
	}
	for _, rec := range records {
		resp.Vulnerabilities = append(resp.Vulnerabilities, view(rec))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.current()
	id := mux.Vars(r)["cveID"]

	rec := snap.Lookup(id)
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "unknown CVE "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, view(*rec))
}

type summaryResponse struct {
	CatalogVersion string `json:"catalogVersion"`
	Stale          bool   `json:"stale"`
	query.Summary
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, stale := s.current()

	top := defaultTopVendors
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		top = n
	}

	s.writeJSON(w, http.StatusOK, summaryResponse{
		CatalogVersion: snap.CatalogVersion,
		Stale:          stale,
		Summary:        query.Summarize(snap.Records, s.now(), top),
	})
}

func parseFilter(r *http.Request) (query.Filter, string, error) {
	q := r.URL.Query()
	f := query.Filter{
		Vendors: q["vendor"],
		Search:  q.Get("q"),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(p.name); v != "" {
			d, err := types.ParseDate(v)
			if err != nil {
				return f, "", err
			}
			t := d.Time
			*p.dst = &t
		}
	}
	return f, q.Get("sort"), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
