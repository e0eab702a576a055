package prometheus

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/metrics/export/internaldefs"
)

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
//
//	Docs: docs/metrics.md
type PrometheusExporter struct {
	source internaldefs.Source
}

// NewPrometheusExporter creates a Prometheus exporter that reads from the given [goBFF.Engine].
//
//	Docs: docs/metrics.md
func NewPrometheusExporter(engine *goBFF.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from any
// [internaldefs.Source].
//
//	Docs: docs/metrics.md
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
//
//	Docs: docs/metrics.md
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
// Engine counters appear only while metrics are enabled and the latency
// histogram only while latency collection is on. Store and audit state is
// always written.
//
//	Docs: docs/metrics.md
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	state := internaldefs.ReadState(p.source)

	var b strings.Builder
	b.Grow(8192)

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeFamily(&b, def.Name, def.Help, internaldefs.Counter.String())
			writeSample(&b, def.Name, "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		writeLatency(&b, def, raw, snapshot.HistogramSums[def.ID])
	}

	for _, def := range internaldefs.StateDefs {
		writeFamily(&b, def.Name, def.Help, def.Kind.String())
		writeSample(&b, def.Name, "", strconv.FormatUint(def.Value(state), 10))
	}

	return b.String()
}

func writeLatency(b *strings.Builder, def internaldefs.HistogramDef, raw []uint64, sum time.Duration) {
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))

	writeFamily(b, def.Name, def.Help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		writeSample(b, def.Name+"_bucket", `le="`+le+`"`, strconv.FormatUint(cumulative[i], 10))
	}
	writeSample(b, def.Name+"_sum", "", strconv.FormatFloat(sum.Seconds(), 'g', -1, 64))
	writeSample(b, def.Name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

func writeFamily(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name, labels, value string) {
	b.WriteString(name)
	if labels != "" {
		b.WriteByte('{')
		b.WriteString(labels)
		b.WriteByte('}')
	}
	b.WriteByte(' ')
	b.WriteString(value)
	b.WriteByte('\n')
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
