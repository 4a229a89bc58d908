// Package stats provides a minimal metrics facade backed by go-metrics.
// A StatsReceiver can be passed down a call tree and scoped at each level,
// so the scheduler and the membership tracker can record instruments
// without knowing how they are registered or rendered.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// Overridable instrument creation, for tests that need fakes.
var NewCounter func() Counter = newMetricCounter
var NewGauge func() Gauge = newMetricGauge
var NewHistogram func() Histogram = newMetricHistogram
var NewLatency func() Latency = newLatency

// StatsRegistry is the subset of the go-metrics registry we rely on.
type StatsRegistry interface {
	// Gets an existing metric or registers the given one.
	GetOrRegister(string, interface{}) interface{}

	// Unregister the metric with the given name.
	Unregister(string)

	// Call the given function for each registered metric.
	Each(func(string, interface{}))
}

// StatsReceiver hands out instruments by name. Hierarchical names are
// joined with '/'; slashes inside a name element are scrubbed rather than
// rejected since some names are generated dynamically.
type StatsReceiver interface {
	// Return a receiver that namespaces all instruments with the given scope.
	Scope(scope ...string) StatsReceiver

	// Returns a copy whose Latency instruments display with the given
	// precision when rendered. Captured data is unaffected.
	Precision(time.Duration) StatsReceiver

	// Provides an event counter.
	Counter(name ...string) Counter

	// Provides a histogram of recorded durations, in nanoseconds.
	Latency(name ...string) Latency

	// Provides a gauge holding an arbitrary int64 value.
	Gauge(name ...string) Gauge

	// Provides a histogram of sampled int64 values.
	Histogram(name ...string) Histogram

	// Removes the named instrument if it exists.
	Remove(name ...string)

	// Construct JSON by marshaling the registry.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver returns a receiver over a fresh registry that
// renders in the flat "name.avg"/"name.count" style.
func DefaultStatsReceiver() StatsReceiver {
	return NewCustomStatsReceiver(nil)
}

// NewCustomStatsReceiver makes a receiver with an explicit registry factory.
func NewCustomStatsReceiver(makeRegistry func() StatsRegistry) StatsReceiver {
	if makeRegistry == nil {
		makeRegistry = NewFlatStatsRegistry
	}
	return &defaultStatsReceiver{
		registry:  makeRegistry(),
		precision: time.Millisecond,
	}
}

type defaultStatsReceiver struct {
	registry  StatsRegistry
	precision time.Duration
	scope     []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.precision, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Precision(precision time.Duration) StatsReceiver {
	if precision < 1 {
		precision = 1
	}
	return &defaultStatsReceiver{s.registry, precision, s.scope}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), NewCounter).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), NewGauge).(Gauge)
}

func (s *defaultStatsReceiver) Histogram(name ...string) Histogram {
	return s.registry.GetOrRegister(s.scopedName(name...), NewHistogram).(Histogram)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	// Latency can't be lazily instantiated, the registry can't cast a factory return value.
	return s.registry.GetOrRegister(s.scopedName(name...), NewLatency().Precision(s.precision)).(Latency)
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	var err error
	var bytes []byte
	if mp, ok := s.registry.(marshalerPretty); ok && pretty {
		bytes, err = mp.MarshalJSONPretty()
	} else {
		bytes, err = json.Marshal(s.registry)
	}
	if err != nil {
		panic("StatsRegistry bug, cannot be marshaled")
	}
	return bytes
}

// Append to existing scope and scrub slashes.
func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	for i, sc := range scope {
		scope[i] = strings.Replace(sc, "/", "_SLASH_", -1)
	}
	return append(s.scope[:], scope...)
}

func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

type marshalerPretty interface {
	MarshalJSONPretty() ([]byte, error)
}

// NilStatsReceiver ignores all stats operations.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver              { return s }
func (s *nilStatsReceiver) Precision(precision time.Duration) StatsReceiver  { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter                   { return &metricCounter{&metrics.NilCounter{}} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge                       { return &metricGauge{&metrics.NilGauge{}} }
func (s *nilStatsReceiver) Histogram(name ...string) Histogram               { return &metricHistogram{&metrics.NilHistogram{}} }
func (s *nilStatsReceiver) Latency(name ...string) Latency                   { return &nilLatency{} }
func (s *nilStatsReceiver) Remove(name ...string)                            {}
func (s *nilStatsReceiver) Render(pretty bool) []byte                        { return []byte{} }

//
// Instruments, minimally mirroring go-metrics.
//

type Counter interface {
	Capture() Counter
	Clear()
	Count() int64
	Inc(int64)
}
type metricCounter struct{ metrics.Counter }

func (m *metricCounter) Capture() Counter { return &metricCounter{m.Snapshot()} }
func newMetricCounter() Counter           { return &metricCounter{metrics.NewCounter()} }

type Gauge interface {
	Capture() Gauge
	Update(int64)
	Value() int64
}
type metricGauge struct{ metrics.Gauge }

func (m *metricGauge) Capture() Gauge { return &metricGauge{m.Snapshot()} }
func newMetricGauge() Gauge           { return &metricGauge{metrics.NewGauge()} }

// HistogramView is a read-only histogram.
type HistogramView interface {
	Mean() float64
	Count() int64
	Max() int64
	Min() int64
	Sum() int64
	Percentiles(ps []float64) []float64
}

type Histogram interface {
	HistogramView
	Capture() Histogram
	Update(int64)
}
type metricHistogram struct{ metrics.Histogram }

func (m *metricHistogram) Capture() Histogram { return &metricHistogram{m.Snapshot()} }
func newMetricHistogram() Histogram {
	return &metricHistogram{metrics.NewHistogram(metrics.NewUniformSample(1000))}
}

// Latency records callsite durations into a histogram:
//
//	defer stat.Latency(name).Time().Stop()
type Latency interface {
	Capture() Latency
	Time() Latency // returns self.
	Stop()
	GetPrecision() time.Duration
	Precision(time.Duration) Latency // returns self.
}
type metricLatency struct {
	metrics.Histogram
	start     time.Time
	precision time.Duration
}

func (l *metricLatency) Time() Latency { l.start = time.Now(); return l }
func (l *metricLatency) Stop()         { l.Update(time.Since(l.start).Nanoseconds()) }
func (l *metricLatency) Capture() Latency {
	return &metricLatency{l.Histogram.Snapshot(), l.start, l.precision}
}
func (l *metricLatency) GetPrecision() time.Duration { return l.precision }
func (l *metricLatency) Precision(p time.Duration) Latency {
	if p < 1 {
		p = 1
	}
	l.precision = p
	return l
}
func newLatency() Latency {
	return &metricLatency{Histogram: metrics.NewHistogram(metrics.NewUniformSample(1000)), precision: time.Nanosecond}
}

type nilLatency struct{}

func (l *nilLatency) Time() Latency                   { return l }
func (l *nilLatency) Stop()                           {}
func (l *nilLatency) Capture() Latency                { return l }
func (l *nilLatency) GetPrecision() time.Duration     { return 0 }
func (l *nilLatency) Precision(time.Duration) Latency { return l }

//
// Flat registry, rendering histograms as "name.avg", "name.p99", etc.
//

type flatStatsRegistry struct {
	metrics.Registry
}

func NewFlatStatsRegistry() StatsRegistry {
	return &flatStatsRegistry{metrics.NewRegistry()}
}

type jsonMap map[string]interface{}

func (r *flatStatsRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.marshalAll())
}

func (r *flatStatsRegistry) MarshalJSONPretty() ([]byte, error) {
	return json.MarshalIndent(r.marshalAll(), "", "  ")
}

func (r *flatStatsRegistry) marshalAll() jsonMap {
	data := make(map[string]interface{})
	r.Each(func(name string, i interface{}) {
		switch stat := i.(type) {
		case Counter:
			data[name] = stat.Count()
		case Gauge:
			data[name] = stat.Value()
		case Histogram:
			r.marshalHistogram(data, name, stat.Capture(), time.Nanosecond)
		case Latency:
			l := stat.Capture()
			r.marshalHistogram(data, name, l.(HistogramView), l.GetPrecision())
		default:
			log.Info("Unrecognized marshal instrument: ", name, i)
		}
	})
	return data
}

func (r *flatStatsRegistry) marshalHistogram(data jsonMap, name string, hist HistogramView, precision time.Duration) {
	f64p := float64(precision)
	i64p := int64(precision)
	data[name+".avg"] = hist.Mean() / f64p
	data[name+".count"] = hist.Count()
	data[name+".max"] = hist.Max() / i64p
	data[name+".min"] = hist.Min() / i64p
	data[name+".sum"] = hist.Sum() / i64p

	pctls := hist.Percentiles(defaultPercentiles)
	for i, pctl := range pctls {
		data[name+"."+defaultPercentileLabels[i]] = pctl / f64p
	}
}

var defaultPercentiles = []float64{0.5, 0.9, 0.95, 0.99, 0.999}
var defaultPercentileLabels = []string{"p50", "p90", "p95", "p99", "p999"}
