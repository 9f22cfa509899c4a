package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/casework/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 7,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "authcore_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRenderEveryCounterOnce(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricAccountLocked:        3,
				authcore.MetricRevocationStoreError: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	for _, name := range []string{
		"authcore_account_locked_total 3",
		"authcore_revocation_store_error_total 1",
		"authcore_login_locked_total 0",
	} {
		if strings.Count(out, "\n"+name+"\n") != 1 {
			t.Fatalf("expected %q exactly once, got:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "authcore_validate_latency_seconds_count 0") {
		t.Fatalf("expected empty histogram, got:\n%s", out)
	}
}

func TestHandlerMethods(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLogout: 4},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	head := httptest.NewRecorder()
	exp.Handler().ServeHTTP(head, httptest.NewRequest(http.MethodHead, "/metrics", nil))
	if head.Code != http.StatusOK || head.Body.Len() != 0 {
		t.Fatalf("HEAD: code=%d body=%q", head.Code, head.Body.String())
	}
	if head.Header().Get("Content-Length") == "" {
		t.Fatal("HEAD: expected Content-Length")
	}

	post := httptest.NewRecorder()
	exp.Handler().ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if post.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST: expected 405, got %d", post.Code)
	}
	if got := post.Header().Get("Allow"); got != "GET, HEAD" {
		t.Fatalf("POST: Allow = %q", got)
	}
}

type droppingSource struct {
	fakeSource
	byType map[string]uint64
}

func (d droppingSource) AuditDroppedByType() map[string]uint64 { return d.byType }

func TestRenderDroppedByEventType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(droppingSource{
		fakeSource: fakeSource{
			snapshot: authcore.MetricsSnapshot{
				Counters:   map[authcore.MetricID]uint64{},
				Histograms: map[authcore.MetricID][]uint64{},
			},
			dropped: 3,
		},
		byType: map[string]uint64{"login_failed": 2, "account_locked": 1},
	})

	out := exp.Render()
	locked := strings.Index(out, `authcore_audit_dropped_events_total{event_type="account_locked"} 1`)
	failed := strings.Index(out, `authcore_audit_dropped_events_total{event_type="login_failed"} 2`)
	if locked < 0 || failed < 0 || locked > failed {
		t.Fatalf("expected sorted per-type samples, got:\n%s", out)
	}
}

func TestRenderEscapesHelp(t *testing.T) {
	var w exposition
	w.counter("x_total", "line one\nline two\\", 1)
	want := "# HELP x_total line one\\nline two\\\\\n# TYPE x_total counter\nx_total 1\n"
	if got := w.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         1000,
				authcore.MetricLoginFailure:         40,
				authcore.MetricRefreshSuccess:       800,
				authcore.MetricRefreshFailure:       10,
				authcore.MetricLoginLocked:          12,
				authcore.MetricTokenRejected:        20,
				authcore.MetricRevocationStoreError: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
