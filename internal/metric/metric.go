package metric

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	namespace = "globalstats"
	subsystem = "service"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "Counter of HTTP requests by route and status code.",
	}, []string{"route", "code"})

	reportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reports_total",
		Help:      "Counter of diagnostic reports by caller and write result.",
	}, []string{"caller", "result"})

	registerOnce sync.Once
)

// Register adds the service collectors to the default registry. Safe to call more than once.
func Register(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	registerOnce.Do(func() {
		requestsTotal = register(logger, requestsTotal, "http_requests_total").(*prometheus.CounterVec)
		reportsTotal = register(logger, reportsTotal, "reports_total").(*prometheus.CounterVec)
	})
}

func register(logger *zap.SugaredLogger, c prometheus.Collector, name string) prometheus.Collector {
	fqName := prometheus.BuildFQName(namespace, subsystem, name)
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		logger.Panicw("failed to register metric", "metric_name", fqName, "err", err)
	}
	logger.Debugw("metric registered", "metric_name", fqName)
	return c
}

func ObserveRequest(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func ObserveReport(caller string, written bool) {
	result := "written"
	if !written {
		result = "failed"
	}
	reportsTotal.WithLabelValues(caller, result).Inc()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
