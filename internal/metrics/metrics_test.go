package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"rmcloud/internal/api"
	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/convert"
	"rmcloud/internal/download"
	"rmcloud/internal/services"
)

var _ download.Observer = (*Metrics)(nil)

func TestObserverCounters(t *testing.T) {
	m := New()
	m.CacheLookup(artifactcache.FormatRaw, true)
	m.CacheLookup(artifactcache.FormatRaw, false)
	m.CacheLookup(artifactcache.FormatRaw, false)
	m.Resolved(artifactcache.FormatConverted, api.ErrorTypeConvertFile, time.Second)
	m.Resolved(artifactcache.FormatRaw, "", time.Millisecond)
	m.Conversion(time.Second, &convert.Failure{TimedOut: true, ExitCode: -1})

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("raw", "miss")); got != 2 {
		t.Fatalf("misses = %v", got)
	}
	if got := testutil.ToFloat64(m.resolves.WithLabelValues("converted", "convert-file")); got != 1 {
		t.Fatalf("convert-file resolves = %v", got)
	}
	if got := testutil.ToFloat64(m.resolves.WithLabelValues("raw", "success")); got != 1 {
		t.Fatalf("successful resolves = %v", got)
	}
	if got := testutil.ToFloat64(m.conversions.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CacheLookup(artifactcache.FormatRaw, true)
	m.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond)
	m.SessionsSwept(1, 2)
	m.Reconciled(3, nil)
	m.RegisterCacheStats(func() (int, int64, bool) { return 0, 0, true })
	if m.Registry() != nil {
		t.Fatal("nil metrics has no registry")
	}
}

type fakeCloud struct{ err error }

func (f fakeCloud) Register(context.Context, string) (string, error) { return "t", f.err }
func (f fakeCloud) ListFiles(context.Context) (cloud.Tree, error)    { return nil, f.err }
func (f fakeCloud) DownloadDocument(context.Context, string) ([]byte, error) {
	return nil, f.err
}

func TestInstrumentCloud(t *testing.T) {
	m := New()
	ok := InstrumentCloud(fakeCloud{}, m)
	_, _ = ok.ListFiles(context.Background())
	failing := InstrumentCloud(fakeCloud{err: services.Wrap(services.ErrTimeout, "cloud", "download", "timed out", nil)}, m)
	_, _ = failing.DownloadDocument(context.Background(), "x")

	if got := testutil.ToFloat64(m.cloudRequests.WithLabelValues("list", "success")); got != 1 {
		t.Fatalf("list successes = %v", got)
	}
	if got := testutil.ToFloat64(m.cloudRequests.WithLabelValues("download", "timeout")); got != 1 {
		t.Fatalf("download timeouts = %v", got)
	}
	if InstrumentCloud(fakeCloud{}, nil) != (fakeCloud{}) {
		t.Fatal("nil metrics should return the client unchanged")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("GET", "/cloud/files", 200, 5*time.Millisecond)
	m.Reconciled(2, nil)
	m.Reconciled(0, errors.New("boom"))
	m.RegisterCacheStats(func() (int, int64, bool) { return 4, 1024, true })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`rmcloud_http_requests_total{method="GET",route="/cloud/files",status="200"} 1`,
		`rmcloud_reconcile_evictions_total 2`,
		`rmcloud_reconcile_runs_total{result="error"} 1`,
		`rmcloud_cache_entries 4`,
		`rmcloud_cache_bytes 1024`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
