package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codesync",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesync",
		Name:      "ws_connections",
		Help:      "Current number of live websocket connections",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesync",
		Name:      "active_rooms",
		Help:      "Current number of rooms with at least one participant",
	})

	editsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "edits_relayed_total",
		Help:      "Edits accepted and fanned out to room peers",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped without fan-out",
	}, []string{"reason"})

	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "send_failures_total",
		Help:      "Per-recipient delivery failures during fan-out",
	})
)

func ConnOpened()               { wsConnections.Inc() }
func ConnClosed()               { wsConnections.Dec() }
func SetActiveRooms(n int)      { activeRooms.Set(float64(n)) }
func EditRelayed()              { editsRelayed.Inc() }
func FrameDropped(reason string) { framesDropped.WithLabelValues(reason).Inc() }
func SendFailed(n int) {
	if n > 0 {
		sendFailures.Add(float64(n))
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required so the websocket upgrade still works behind the
// metrics middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics with Prometheus labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
