// Package metrics exposes Prometheus collectors for the supervisor, the
// acquisition pipeline and the external clients.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"snipebot/internal/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snipebot"

type Metrics struct {
	// Supervisor
	Evaluations   prometheus.Counter
	Decisions     *prometheus.CounterVec
	SellSubmitted prometheus.Counter
	SellOutcomes  *prometheus.CounterVec
	Failures      prometheus.Counter
	OpenPositions prometheus.Gauge
	Closed        prometheus.Counter

	// Pipeline
	Candidates *prometheus.CounterVec
	Buys       *prometheus.CounterVec

	// External calls
	CallLatency *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "evaluations_total",
			Help:      "Total number of position evaluations",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "decisions_total",
			Help:      "Exit decisions by action and reason",
		}, []string{"action", "reason"}),
		SellSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "sell_submissions_total",
			Help:      "Total number of sell submissions",
		}),
		SellOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "sell_outcomes_total",
			Help:      "Sell attempt outcomes",
		}, []string{"outcome"}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "failed_positions_total",
			Help:      "Positions moved to FAILED",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "active_positions",
			Help:      "Number of OPEN and EXITING positions",
		}),
		Closed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "closed_positions_total",
			Help:      "Positions closed by a confirmed sell",
		}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "candidates_total",
			Help:      "Candidates by verdict",
		}, []string{"verdict"}),
		Buys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "buys_total",
			Help:      "Buy attempts by outcome",
		}, []string{"outcome"}),
		CallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "call_latency_seconds",
			Help:      "External call latency by operation and outcome",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op", "outcome"}),
	}
}

// NewNop returns collectors bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveCall(op, outcome string, latency time.Duration) {
	m.CallLatency.WithLabelValues(op, outcome).Observe(latency.Seconds())
}

func (m *Metrics) ObserveResult(res retry.Result) {
	m.ObserveCall(res.Op, string(res.Outcome), res.Latency)
}

// Serve exposes /metrics until ctx is canceled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("Сервер метрик остановился: %w", err)
	}
}
