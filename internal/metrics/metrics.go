package metrics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudy_events_total",
			Help: "Filesystem events seen by the orchestrator",
		},
		[]string{"kind", "action"},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudy_transfers_total",
			Help: "Completed rsync transfers",
		},
		[]string{"kind", "result"},
	)

	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudy_transfer_duration_seconds",
			Help:    "Wall time of a single rsync transfer",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"result"},
	)

	TransfersInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudy_transfers_in_flight",
			Help: "Transfers currently running",
		},
	)

	TransfersCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudy_transfers_coalesced_total",
			Help: "Events folded into an already pending transfer for the same path",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudy_http_requests_total",
			Help: "Status server requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		TransfersTotal,
		TransferDuration,
		TransfersInFlight,
		TransfersCoalesced,
		HTTPRequestsTotal,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware counts requests served by the status server.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()

			return err
		}
	}
}
