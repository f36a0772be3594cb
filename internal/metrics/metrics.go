// Package metrics records playback pipeline metrics and serves them for
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ttsplay"

// Utterance outcomes.
const (
	OutcomeDone        = "done"
	OutcomeStopped     = "stopped"
	OutcomeError       = "error"
	OutcomeFocusDenied = "focus_denied"
	OutcomeDevice      = "device_error"
	OutcomeSkipped     = "skipped"
)

// Recorder receives pipeline measurements. Implementations must be safe
// for concurrent use.
type Recorder interface {
	Utterance(outcome string, d time.Duration)
	Stop()
	FocusDenied()
	DeviceFailure(stage string)
	Clipped(samples int)
	Gain(db float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Utterance(string, time.Duration) {}
func (Nop) Stop()                           {}
func (Nop) FocusDenied()                    {}
func (Nop) DeviceFailure(string)            {}
func (Nop) Clipped(int)                     {}
func (Nop) Gain(float64)                    {}

var _ Recorder = (*Prometheus)(nil)

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	utterances     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	stops          prometheus.Counter
	focusDenials   prometheus.Counter
	deviceFailures *prometheus.CounterVec
	clippedSamples prometheus.Counter
	gainDB         prometheus.Gauge
}

// NewPrometheus creates a recorder with the pipeline metrics and the Go
// runtime collectors registered.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		utterances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances finished, by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Time from dequeue to terminal state",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Stop requests that interrupted an utterance",
		}),
		focusDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "focus_denials_total",
			Help:      "Audio focus requests that were not granted",
		}),
		deviceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_failures_total",
			Help:      "Output device failures, by stage",
		}, []string{"stage"}), // stage: open, write
		clippedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clipped_samples_total",
			Help:      "Samples saturated by the gain stage",
		}),
		gainDB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gain_db",
			Help:      "Current output gain in dB",
		}),
	}
	p.registry.MustRegister(
		p.utterances, p.duration, p.stops, p.focusDenials,
		p.deviceFailures, p.clippedSamples, p.gainDB,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *Prometheus) Utterance(outcome string, d time.Duration) {
	p.utterances.WithLabelValues(outcome).Inc()
	p.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) Stop()                      { p.stops.Inc() }
func (p *Prometheus) FocusDenied()               { p.focusDenials.Inc() }
func (p *Prometheus) DeviceFailure(stage string) { p.deviceFailures.WithLabelValues(stage).Inc() }
func (p *Prometheus) Gain(db float64)            { p.gainDB.Set(db) }

func (p *Prometheus) Clipped(samples int) {
	if samples > 0 {
		p.clippedSamples.Add(float64(samples))
	}
}

const defaultReadHeaderTimeout = 10 * time.Second

// Server serves /metrics and /health on addr.
type Server struct {
	addr    string
	handler http.Handler

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a metrics server for p.
func NewServer(addr string, p *Prometheus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{addr: addr, handler: mux}
}

// Handler returns the server mux.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe blocks until the server stops. Returns
// http.ErrServerClosed after Shutdown, including when Shutdown ran first.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	srv := s.server
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
