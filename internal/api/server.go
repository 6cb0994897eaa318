package api

import (
	"net/http"

	"globalstats/internal/auth"
	"globalstats/internal/metric"
	"globalstats/internal/service"

	"go.uber.org/zap"
)

type server struct {
	svc    *service.Service
	auth   auth.Checker
	logger *zap.SugaredLogger
}

func NewServer(svc *service.Service, checker auth.Checker, logger *zap.SugaredLogger) *server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if checker == nil {
		checker = auth.NewStaticCode(auth.DefaultAdminCode)
	}
	return &server{svc: svc, auth: checker, logger: logger}
}

func (s *server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metric.Handler())

	// global statistics
	mux.HandleFunc("GET /api/v1/global/stats/{admin_code}", s.handleGetStats)
	mux.HandleFunc("POST /api/v1/global/stats/{admin_code}", s.handleUpdateStats)
	return instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by the mux pattern that served them.
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		metric.ObserveRequest(pattern, rec.status)
	})
}
