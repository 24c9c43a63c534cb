// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/kev-tracker/internal/config"
	"github.com/bonial-oss/kev-tracker/internal/logging"
	"github.com/bonial-oss/kev-tracker/internal/output"
	"github.com/bonial-oss/kev-tracker/internal/reconcile"
	"github.com/bonial-oss/kev-tracker/internal/types"
)

const (
	testCachePath  = "/data/data_cache.json"
	testArchiveDir = "/data/Legacy"
)

const catalogV1 = `{"catalogVersion": "2024.01.01", "dateReleased": "2024-01-01T12:00:00.000Z", "vulnerabilities": [
	{"cveID": "CVE-2024-0001", "vendorProject": "Acme", "product": "Gateway", "vulnerabilityName": "Acme Gateway RCE",
	 "dateAdded": "2024-01-01", "dueDate": "2024-01-22", "knownRansomwareCampaignUse": "Known", "cwes": ["CWE-78"]},
	{"cveID": "CVE-2024-0002", "vendorProject": "Globex", "product": "Portal", "vulnerabilityName": "Globex Portal XSS",
	 "dateAdded": "2024-01-01", "dueDate": "2024-01-22", "knownRansomwareCampaignUse": "Unknown"}
]}`

const catalogV2 = `{"catalogVersion": "2024.01.02", "vulnerabilities": [
	{"cveID": "CVE-2024-0001", "vendorProject": "Acme", "product": "Gateway", "vulnerabilityName": "Acme Gateway RCE",
	 "dateAdded": "2024-01-01", "dueDate": "2024-01-22", "knownRansomwareCampaignUse": "Known", "cwes": ["CWE-78"]},
	{"cveID": "CVE-2024-0002", "vendorProject": "Globex", "product": "Portal", "vulnerabilityName": "Globex Portal XSS",
	 "dateAdded": "2024-01-01", "dueDate": "2024-01-22", "knownRansomwareCampaignUse": "Unknown"},
	{"cveID": "CVE-2024-0003", "vendorProject": "Acme", "product": "Router", "vulnerabilityName": "Acme Router auth bypass",
	 "dateAdded": "2024-01-02", "dueDate": "2024-01-23", "knownRansomwareCampaignUse": "Unknown"}
]}`

// upstream fakes the KEV, EPSS and NVD services.
type upstream struct {
	*httptest.Server

	mu      sync.Mutex
	catalog string
	down    bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{catalog: catalogV1}
	mux := http.NewServeMux()
	mux.HandleFunc("/kev", func(w http.ResponseWriter, _ *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(u.catalog))
	})
	mux.HandleFunc("/epss", func(w http.ResponseWriter, r *http.Request) {
		cve := r.URL.Query().Get("cve")
		_, _ = fmt.Fprintf(w, `{"status": "OK", "total": 1, "data": [{"cve": %q, "epss": "0.25"}]}`, cve)
	})
	mux.HandleFunc("/nvd", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"vulnerabilities": [{"cve": {"metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 9.8}}]}}}]}`))
	})
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) serve(catalog string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.catalog = catalog
	u.down = false
}

func (u *upstream) fail() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.down = true
}

// env is shared between command invocations of one test.
type env struct {
	t          *testing.T
	fs         afero.Fs
	up         *upstream
	configPath string
}

func newEnv(t *testing.T) *env {
	e := &env{t: t, fs: afero.NewMemMapFs(), up: newUpstream(t)}
	e.configPath = filepath.Join(t.TempDir(), "config.yaml")
	cfg := fmt.Sprintf(`feed:
  url: %[1]s/kev
  fallback_url: ""
epss:
  url: %[1]s/epss
nvd:
  url: %[1]s/nvd
  min_interval: 0s
cache:
  path: %[2]s
  archive_dir: %[3]s
log:
  level: debug
`, e.up.URL, testCachePath, testArchiveDir)
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0o600))
	return e
}

// run executes the CLI once and returns its stdout.
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	a := &app{v: config.NewViper(), fs: e.fs, stdout: &stdout, stderr: &stderr}
	cmd := newRootCommand(a)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		e.t.Logf("stderr:\n%s", stderr.String())
	}
	return stdout.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected error type: %v", err)
	return exitErr.Code
}

func TestSync_FirstRunThenUpToDate(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Catalog 2024.01.01 loaded: 2 records")

	out, err = e.run("sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Catalog 2024.01.01 is up to date (2 records)")
}

func TestSync_NewVersionReportsDelta(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("sync")
	require.NoError(t, err)

	e.up.serve(catalogV2)
	out, err := e.run("sync", "--format", "json")
	require.NoError(t, err)

	var got syncOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "updated", got.Outcome)
	assert.Equal(t, "2024.01.02", got.CatalogVersion)
	assert.Equal(t, "2024.01.01", got.PreviousVersion)
	assert.Equal(t, 1, got.Added)
	assert.Equal(t, 3, got.Records)

	ok, err := afero.Exists(e.fs, testArchiveDir+"/KEV_20240101.json")
	require.NoError(t, err)
	assert.True(t, ok, "superseded cache should be archived")
}

func TestSync_FeedDownWithoutCacheIsFatal(t *testing.T) {
	e := newEnv(t)
	e.up.fail()

	_, err := e.run("sync")
	assert.Equal(t, ExitFatal, exitCode(t, err))
}

func TestSync_FeedDownServesCache(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("sync")
	require.NoError(t, err)

	e.up.fail()
	out, err := e.run("sync")
	assert.Equal(t, ExitStale, exitCode(t, err))
	assert.Contains(t, out, "Feed unavailable, using cached catalog 2024.01.01")
}

func TestSync_UnknownFormat(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("sync", "--format", "xml")
	assert.Equal(t, ExitFatal, exitCode(t, err))
}

func TestList_OfflineWithoutCache(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("list", "--offline")
	require.Error(t, err)
	assert.Equal(t, ExitFatal, exitCode(t, err))
	assert.Contains(t, err.Error(), "run sync first")
}

func TestList_FiltersJSON(t *testing.T) {
	e := newEnv(t)
	e.up.serve(catalogV2)
	_, err := e.run("sync")
	require.NoError(t, err)

	out, err := e.run("list", "--offline", "--format", "json", "--vendor", "Acme", "--sort", "cve")
	require.NoError(t, err)

	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "2024.01.02", report.CatalogVersion)
	require.Equal(t, 2, report.Count)
	assert.Equal(t, "CVE-2024-0001", report.Vulnerabilities[0].CVEID)
	assert.Equal(t, "CVE-2024-0003", report.Vulnerabilities[1].CVEID)
	assert.InDelta(t, 0.25, report.Vulnerabilities[0].EPSSValue(), 1e-9)
	assert.InDelta(t, 9.8, report.Vulnerabilities[0].CVSSValue(), 1e-9)
	assert.Equal(t, "CRITICAL", report.Vulnerabilities[0].Severity)
}

func TestList_DateRangeAndSearch(t *testing.T) {
	e := newEnv(t)
	e.up.serve(catalogV2)

	out, err := e.run("list", "--format", "json", "--from", "2024-01-02", "--to", "2024-01-02", "--search", "router")
	require.NoError(t, err)

	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, 1, report.Count)
	assert.Equal(t, "CVE-2024-0003", report.Vulnerabilities[0].CVEID)
}

func TestList_Table(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("list", "--ransomware-only")
	require.NoError(t, err)

	assert.Contains(t, out, "KEV catalog 2024.01.01")
	assert.Contains(t, out, "CVE-2024-0001")
	assert.NotContains(t, out, "CVE-2024-0002")
}

func TestList_InvalidArguments(t *testing.T) {
	e := newEnv(t)
	tests := [][]string{
		{"list", "--from", "yesterday"},
		{"list", "--sort", "name"},
		{"list", "--format", "csv"},
	}
	for _, args := range tests {
		_, err := e.run(args...)
		assert.Equal(t, ExitFatal, exitCode(t, err), "args %v", args)
	}
}

func TestList_OutputFile(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("list", "--format", "json", "-o", "/kev.json")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := afero.ReadFile(e.fs, "/kev.json")
	require.NoError(t, err)
	var report output.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Count)
}

func TestList_StaleExitCode(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("sync")
	require.NoError(t, err)

	e.up.fail()
	out, err := e.run("list", "--format", "json")
	assert.Equal(t, ExitStale, exitCode(t, err))

	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Stale)
	assert.Equal(t, 2, report.Count)
}

func TestSummary_JSON(t *testing.T) {
	e := newEnv(t)
	e.up.serve(catalogV2)

	out, err := e.run("summary", "--format", "json", "--top", "1")
	require.NoError(t, err)

	var got summaryReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "2024.01.02", got.CatalogVersion)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.RansomwareUse)
	require.Len(t, got.TopVendors, 1)
	assert.Equal(t, "Acme", got.TopVendors[0].Vendor)
	assert.Equal(t, 2, got.TopVendors[0].Count)
}

func TestStatus(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("status", "--format", "json")
	require.NoError(t, err)
	var st output.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "absent", st.CacheState)
	assert.Equal(t, testCachePath, st.CachePath)

	_, err = e.run("sync")
	require.NoError(t, err)
	e.up.serve(catalogV2)
	_, err = e.run("sync")
	require.NoError(t, err)

	out, err = e.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "2024.01.02")
	assert.Contains(t, out, "(1 entries)")
}

func TestStatus_CorruptCache(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, afero.WriteFile(e.fs, testCachePath, []byte("{not json"), 0o644))

	out, err := e.run("status", "--format", "json")
	require.NoError(t, err)

	var st output.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Contains(t, st.CacheState, "corrupt")
	assert.Equal(t, int64(len("{not json")), st.SizeBytes)
}

func TestFlagsOverrideConfig(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("sync", "--cache-path", "/elsewhere/cache.json")
	require.NoError(t, err)

	ok, err := afero.Exists(e.fs, "/elsewhere/cache.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = afero.Exists(e.fs, testCachePath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidConfigIsFatal(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("status", "--log-level", "loud")
	assert.Equal(t, ExitFatal, exitCode(t, err))
}

// fakeReconciler returns canned results in order, repeating the last one.
type fakeReconciler struct {
	mu      sync.Mutex
	results []*reconcile.Result
	calls   int
}

func (f *fakeReconciler) RunOrCached(_ context.Context) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.results)-1)
	f.calls++
	return f.results[i], nil
}

func (f *fakeReconciler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu       sync.Mutex
	versions []string
}

func (p *recordingPublisher) Publish(snap *types.Snapshot, _ bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions = append(p.versions, snap.CatalogVersion)
}

func TestWatchLoop_RunsImmediatelyAndOnTick(t *testing.T) {
	r := &fakeReconciler{results: []*reconcile.Result{
		{Snapshot: &types.Snapshot{CatalogVersion: "v1"}, Updated: true},
		{Snapshot: &types.Snapshot{CatalogVersion: "v2"}, Updated: true},
	}}
	p := &recordingPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchLoop(ctx, r, p, 10*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch loop did not stop")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	require.GreaterOrEqual(t, len(p.versions), 3)
	assert.Equal(t, []string{"v1", "v2", "v2"}, p.versions[:3])
}

func TestRunWatch_ServesAndStops(t *testing.T) {
	e := newEnv(t)
	cfg := config.Default()
	cfg.Feed.URL = e.up.URL + "/kev"
	cfg.Feed.FallbackURL = ""
	cfg.EPSS.URL = e.up.URL + "/epss"
	cfg.NVD.URL = e.up.URL + "/nvd"
	cfg.NVD.MinInterval = 0
	cfg.Cache.Path = testCachePath
	cfg.Cache.ArchiveDir = testArchiveDir

	log, err := logging.New(io.Discard, "info", "text")
	require.NoError(t, err)
	a := &app{fs: e.fs, stdout: io.Discard, stderr: io.Discard, cfg: &cfg, log: log}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.runWatch(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/vulnerabilities/CVE-2024-0001")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `kev_tracker_reconcile_runs_total{outcome="updated"} 1`)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestList_FromArchivedFile(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("sync")
	require.NoError(t, err)
	e.up.serve(catalogV2)
	_, err = e.run("sync")
	require.NoError(t, err)

	out, err := e.run("list", "--file", testArchiveDir+"/KEV_20240101.json", "--format", "json")
	require.NoError(t, err)

	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "2024.01.01", report.CatalogVersion)
	assert.Equal(t, 2, report.Count)
	assert.InDelta(t, 0.25, report.Vulnerabilities[0].EPSSValue(), 1e-9)
}

func TestSummary_FromCatalogFile(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, afero.WriteFile(e.fs, "/feed.json", []byte(catalogV2), 0o644))
	e.up.fail()

	out, err := e.run("summary", "--file", "/feed.json", "--format", "json")
	require.NoError(t, err)

	var got summaryReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 3, got.Total)
	assert.Zero(t, got.MeanEPSS)
}

func TestList_UnrecognizedFile(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, afero.WriteFile(e.fs, "/other.json", []byte(`{"SchemaVersion": 2}`), 0o644))

	_, err := e.run("list", "--file", "/other.json")
	assert.Equal(t, ExitFatal, exitCode(t, err))
}
