// Package metrics counts what a run loads and corrects, and writes the totals
// as a Prometheus textfile next to the run log.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the per-run registry.
type Recorder struct {
	reg      *prometheus.Registry
	rows     *prometheus.CounterVec
	qc       *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration prometheus.Gauge
	started  time.Time
	observed bool
}

// New returns a recorder with its own registry, labelled by protocol.
func New(protocol string) *Recorder {
	labels := prometheus.Labels{"protocol": protocol}
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldetl_rows_inserted_total",
			Help:        "Rows committed per target table.",
			ConstLabels: labels,
		}, []string{"table"}),
		qc: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldetl_qc_corrections_total",
			Help:        "Rows rewritten by QC validation per field.",
			ConstLabels: labels,
		}, []string{"field"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldetl_failures_total",
			Help:        "Terminal failures per error class.",
			ConstLabels: labels,
		}, []string{"class"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fieldetl_run_duration_seconds",
			Help:        "Wall time of the last run.",
			ConstLabels: labels,
		}),
		started: time.Now(),
	}
	r.reg.MustRegister(r.rows, r.qc, r.failures, r.duration)
	return r
}

// RowsInserted adds n committed rows for table.
func (r *Recorder) RowsInserted(table string, n int) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues(table).Add(float64(n))
}

// QCCorrected adds n corrected rows for field.
func (r *Recorder) QCCorrected(field string, n int) {
	if r == nil {
		return
	}
	r.qc.WithLabelValues(field).Add(float64(n))
}

// Failed records a terminal failure of class.
func (r *Recorder) Failed(class string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(class).Inc()
}

// ObserveDuration records the wall time of the run.
func (r *Recorder) ObserveDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.duration.Set(d.Seconds())
	r.observed = true
}

// Gatherer exposes the registry for tests and exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes all series to path, stamping the duration since New
// when none was observed.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if !r.observed {
		r.duration.Set(time.Since(r.started).Seconds())
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return errors.Wrap(err, "write metrics textfile")
	}
	return nil
}
