package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "testlib"

// Registry holds every collector of this module. It is separate from the
// default registry so tests and embedders do not collide.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	ControlConnectsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "connects_total",
		Help:      "Successful control websocket connects, including reconnects",
	})

	ControlDialFailuresTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "dial_failures_total",
		Help:      "Failed control websocket dials by reason",
	}, []string{"reason"})

	ControlConnected = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "connected",
		Help:      "1 while the control websocket is up",
	})

	ControlSignalsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "signals_total",
		Help:      "Control signals by direction (in/out) and type",
	}, []string{"dir", "type"})

	ControlQueuedFramesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "queued_frames_total",
		Help:      "Outbound frames buffered while disconnected",
	})

	ControlDroppedFramesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "dropped_frames_total",
		Help:      "Outbound frames evicted from a full buffer",
	})

	CommandsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "library",
		Name:      "commands_total",
		Help:      "Test commands executed by class",
	}, []string{"class"})

	HTTPRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Command channel requests by path and status",
	}, []string{"path", "status"})

	HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Command channel request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})
)

// EnableRuntimeMetrics adds Go runtime and process collectors. Idempotent.
func EnableRuntimeMetrics() {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := Registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// StartMetricsServer serves /metrics on addr until ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty metrics address")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveDialFailure(err error) {
	ControlDialFailuresTotal.WithLabelValues(FailureReason(err)).Inc()
}

func ObserveSignal(dir, typ string) {
	ControlSignalsTotal.WithLabelValues(dir, typ).Inc()
}

func ObserveHTTP(path string, status int, d time.Duration) {
	s := "error"
	if status > 0 {
		s = fmt.Sprintf("%d", status)
	}
	HTTPRequestsTotal.WithLabelValues(path, s).Inc()
	HTTPRequestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func SetConnected(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	ControlConnected.Set(v)
}

// FailureReason buckets a dial error into a low-cardinality label.
func FailureReason(err error) string {
	if err == nil {
		return "unknown"
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "timeout") || strings.Contains(e, "deadline"):
		return "timeout"
	case strings.Contains(e, "tls") || strings.Contains(e, "x509") || strings.Contains(e, "certificate"):
		return "tls"
	case strings.Contains(e, "dns") || strings.Contains(e, "no such host"):
		return "dns"
	case strings.Contains(e, "refused"):
		return "refused"
	case strings.Contains(e, "status"):
		return "handshake"
	default:
		return "other"
	}
}
