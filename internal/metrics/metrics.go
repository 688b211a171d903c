// Package metrics records proofpipe's Prometheus metrics: dispositions per
// run and every call made to the completion service and the verifier.
//
// Metrics are registered on a caller-supplied registry. A batch run has no
// scrape endpoint, so the CLI writes them to a node-exporter textfile when
// the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/verifier"
)

const namespace = "proofpipe"

// Collaborator label values.
const (
	CollaboratorCompletion = "completion"
	CollaboratorVerifier   = "verifier"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected" // the verifier answered and rejected the source
	ResultError    = "error"    // the call itself failed
)

// Metrics holds the pipeline metrics.
type Metrics struct {
	// DispositionsTotal counts resolved requirements.
	// Labels: disposition (direct, proof, proof_retry, obligation)
	DispositionsTotal *prometheus.CounterVec

	// ExternalCallsTotal counts collaborator calls.
	// Labels: collaborator (completion, verifier), mode (purpose or verifier mode), result (ok, rejected, error)
	ExternalCallsTotal *prometheus.CounterVec

	// ExternalCallDuration measures collaborator call latency.
	// Labels: collaborator, mode
	ExternalCallDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{
		DispositionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispositions_total",
			Help:      "Requirements resolved, by disposition",
		}, []string{"disposition"}),
		ExternalCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Calls to the completion service and the verifier",
		}, []string{"collaborator", "mode", "result"}),
		ExternalCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of calls to the completion service and the verifier",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"collaborator", "mode"}),
		registry: reg,
	}
	// Pre-create every disposition so a run with none of a kind still exports 0.
	for _, d := range ir.AllDispositions {
		m.DispositionsTotal.WithLabelValues(string(d))
	}
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun counts the dispositions of a finished run.
func (m *Metrics) ObserveRun(run *ir.Run) {
	for _, rr := range run.Requirements {
		if rr.Disposition.IsTerminal() {
			m.DispositionsTotal.WithLabelValues(string(rr.Disposition)).Inc()
		}
	}
}

func (m *Metrics) observeCall(collaborator, mode, result string, start time.Time) {
	m.ExternalCallsTotal.WithLabelValues(collaborator, mode, result).Inc()
	m.ExternalCallDuration.WithLabelValues(collaborator, mode).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// InstrumentModel wraps a completion model so every call is counted.
func (m *Metrics) InstrumentModel(model completion.Model) completion.Model {
	return &instrumentedModel{next: model, metrics: m}
}

type instrumentedModel struct {
	next    completion.Model
	metrics *Metrics
}

func (im *instrumentedModel) Generate(ctx context.Context, p completion.Prompt) (string, error) {
	start := time.Now()
	text, err := im.next.Generate(ctx, p)
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	im.metrics.observeCall(CollaboratorCompletion, string(p.Purpose), result, start)
	return text, err
}

// InstrumentVerifier wraps a verifier so every call is counted.
func (m *Metrics) InstrumentVerifier(v verifier.Verifier) verifier.Verifier {
	return &instrumentedVerifier{next: v, metrics: m}
}

type instrumentedVerifier struct {
	next    verifier.Verifier
	metrics *Metrics
}

func (iv *instrumentedVerifier) TypeCheck(ctx context.Context, source string) (verifier.Result, error) {
	start := time.Now()
	res, err := iv.next.TypeCheck(ctx, source)
	iv.metrics.observeCall(CollaboratorVerifier, string(verifier.ModeTypeCheck), verdict(res, err), start)
	return res, err
}

func (iv *instrumentedVerifier) Verify(ctx context.Context, source string, opts verifier.Options) (verifier.Result, error) {
	start := time.Now()
	res, err := iv.next.Verify(ctx, source, opts)
	iv.metrics.observeCall(CollaboratorVerifier, string(verifier.ModeVerify), verdict(res, err), start)
	return res, err
}

func verdict(res verifier.Result, err error) string {
	switch {
	case err != nil:
		return ResultError
	case !res.OK:
		return ResultRejected
	}
	return ResultOK
}
