package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/casework/authcore"
	"github.com/casework/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// droppedByTypeSource is implemented by *authcore.Engine.
type droppedByTypeSource interface {
	AuditDroppedByType() map[string]uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render on GET and HEAD.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body := p.Render()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(body))
	})
}

// Render returns the current metrics. It is empty when metrics are disabled and no
// audit event was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var w exposition
	w.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		w.counter(def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		w.histogram(def.Name, def.Help, internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
	}
	w.counter("authcore_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", dropped)
	if src, ok := p.source.(droppedByTypeSource); ok {
		w.droppedByType(src.AuditDroppedByType())
	}

	return w.String()
}

// exposition accumulates metric families in text format 0.0.4.
type exposition struct {
	strings.Builder
}

func (w *exposition) family(name, help, kind string) {
	help = strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
	w.WriteString("# HELP " + name + " " + help + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *exposition) sample(name, labels string, value uint64) {
	w.WriteString(name)
	w.WriteString(labels)
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(value, 10))
	w.WriteByte('\n')
}

func (w *exposition) counter(name, help string, value uint64) {
	w.family(name, help, "counter")
	w.sample(name, "", value)
}

func (w *exposition) droppedByType(counts map[string]uint64) {
	if len(counts) == 0 {
		return
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	const name = "authcore_audit_dropped_events_total"
	w.family(name, "Audit events dropped, by event type.", "counter")
	for _, t := range types {
		w.sample(name, `{event_type="`+t+`"}`, counts[t])
	}
}

// histogram writes buckets as running totals. Snapshots keep bucket counts only, so
// _sum is always 0.
func (w *exposition) histogram(name, help string, buckets [8]uint64) {
	w.family(name, help, "histogram")

	cumulative := internaldefs.CumulativeBuckets(buckets)
	for i, le := range internaldefs.HistogramBounds {
		w.sample(name+"_bucket", `{le="`+le+`"}`, cumulative[i])
	}
	w.sample(name+"_count", "", cumulative[len(cumulative)-1])
	w.sample(name+"_sum", "", 0)
}
