package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Trading cycles run, by terminal status"},
		[]string{"status"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cycle_duration_seconds",
			Help:    "Wall time of a full trading cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted to the exchange"},
		[]string{"symbol", "side"},
	)
	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetch_errors_total", Help: "Failed data fetch tasks"},
		[]string{"source"},
	)
	ClosedBetweenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "closed_between_cycles_total", Help: "Positions found closed between cycles"},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleDuration, OrdersTotal, FetchErrorsTotal, ClosedBetweenTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
