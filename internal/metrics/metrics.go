// Package metrics holds the Prometheus collectors for the marketplace and
// the HTTP middleware that feeds the request metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// Reservations counts placeOrder outcomes by error kind ("ok" on success).
	Reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reservations_total",
			Help:      "Order placement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ReservationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "reservation_duration_seconds",
		Help:      "Time spent inside the reservation critical section, including lock wait.",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1, 2.5},
	})

	UnitsReserved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "units_reserved_total",
		Help:      "Stock units claimed by successful orders.",
	})

	EventsProjected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projector",
			Name:      "events_total",
			Help:      "Events handled by the projector by type and result.",
		},
		[]string{"type", "result"}, // result: applied | duplicate | ignored | failed
	)
)

// Registry is private so tests and multiple binaries never collide on the global one.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestDuration,
		RequestTotal,
		Reservations,
		ReservationDuration,
		UnitsReserved,
		EventsProjected,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request metrics labelled by the chi route pattern, so
// /products/{id} is one series rather than one per id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		RequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
		RequestTotal.WithLabelValues(r.Method, route, code).Inc()
	})
}
