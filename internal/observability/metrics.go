// Package observability holds the agent's Prometheus collectors and tracing
// setup.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/censys/radio-survey/pkg/scanning"
)

// SurveyCollector bundles the scan agent metrics. A nil *SurveyCollector is
// safe to use and records nothing.
type SurveyCollector struct {
	gatherer prometheus.Gatherer

	Ticks         *prometheus.CounterVec
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Observations  *prometheus.CounterVec
	ScanFailures  *prometheus.CounterVec
	Uploads       *prometheus.CounterVec
	DenylistSize  prometheus.Gauge
}

// NewSurveyCollector registers the agent metrics against reg, defaulting to
// the global registry when nil.
func NewSurveyCollector(reg prometheus.Registerer) (*SurveyCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "survey_ticks_total",
		Help: "Scheduler ticks, labeled by outcome (started, busy, not_moved, no_position).",
	}, []string{"outcome"}), "survey_ticks_total")
	if err != nil {
		return nil, err
	}
	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "survey_cycles_total",
		Help: "Finished scan cycles, labeled by result (ok, cancelled, error).",
	}, []string{"result"}), "survey_cycles_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "survey_cycle_duration_seconds",
		Help:    "Wall time of a scan cycle including uploads.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
	}), "survey_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}
	observations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "survey_observations_total",
		Help: "Observations per radio and pipeline stage (scanned, kept, filtered).",
	}, []string{"radio", "stage"}), "survey_observations_total")
	if err != nil {
		return nil, err
	}
	scanFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "survey_scan_failures_total",
		Help: "Radio scans that produced no list, labeled by radio and reason.",
	}, []string{"radio", "reason"}), "survey_scan_failures_total")
	if err != nil {
		return nil, err
	}
	uploads, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "survey_uploads_total",
		Help: "Per-record upload attempts, labeled by channel and result.",
	}, []string{"channel", "result"}), "survey_uploads_total")
	if err != nil {
		return nil, err
	}
	denylist, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "survey_denylist_entries",
		Help: "Number of hardware addresses currently denylisted.",
	}), "survey_denylist_entries")
	if err != nil {
		return nil, err
	}

	return &SurveyCollector{
		gatherer:      gatherer,
		Ticks:         ticks,
		Cycles:        cycles,
		CycleDuration: duration,
		Observations:  observations,
		ScanFailures:  scanFailures,
		Uploads:       uploads,
		DenylistSize:  denylist,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SurveyCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *SurveyCollector) ObserveTick(outcome string) {
	if c == nil {
		return
	}
	c.Ticks.WithLabelValues(outcome).Inc()
}

func (c *SurveyCollector) ObserveCycle(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.CycleDuration.Observe(d.Seconds())
	c.Cycles.WithLabelValues(cycleResult(err)).Inc()
}

func (c *SurveyCollector) ObserveScan(radio scanning.Radio, found int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ScanFailures.WithLabelValues(string(radio), scanFailureReason(err)).Inc()
		return
	}
	c.Observations.WithLabelValues(string(radio), "scanned").Add(float64(found))
}

func (c *SurveyCollector) ObserveFiltered(radio scanning.Radio, kept, dropped int) {
	if c == nil {
		return
	}
	c.Observations.WithLabelValues(string(radio), "kept").Add(float64(kept))
	c.Observations.WithLabelValues(string(radio), "filtered").Add(float64(dropped))
}

func (c *SurveyCollector) ObserveUpload(channel string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Uploads.WithLabelValues(channel, result).Inc()
}

func (c *SurveyCollector) SetDenylistSize(n int) {
	if c == nil {
		return
	}
	c.DenylistSize.Set(float64(n))
}

func cycleResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

func scanFailureReason(err error) string {
	switch {
	case errors.Is(err, scanning.ErrCapabilityUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
