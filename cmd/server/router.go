package main

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	requestIDHeader = "X-Request-ID"
	eventsPath      = "/api/events"
)

func newRouter(a *api, reg *prometheus.Registry) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/currency", a.getCurrency).Methods(http.MethodGet)
	s.HandleFunc("/currency", a.putCurrency).Methods(http.MethodPut)
	s.HandleFunc("/rates", a.getRates).Methods(http.MethodGet)
	s.HandleFunc("/rates/refresh", a.refreshRates).Methods(http.MethodPost)
	s.HandleFunc("/price", a.getPrice).Methods(http.MethodGet)
	s.HandleFunc("/prices", a.postPrices).Methods(http.MethodPost)
	s.HandleFunc("/events", a.events).Methods(http.MethodGet)

	var h http.Handler = r
	h = limitBody(h)
	h = compressExcept(eventsPath, h)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(a.logger.StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Error})),
	)(h)
	h = requestLog(a.logger, h)
	h = requestID(h)
	return h
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// compressExcept gzips responses for every path but the streaming one.
func compressExcept(path string, next http.Handler) http.Handler {
	compressed := handlers.CompressHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLog(logger hclog.Logger, next http.Handler) http.Handler {
	logger = logger.Named("http")
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Info("request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"size", p.Size,
			"duration", time.Since(p.TimeStamp),
			"request_id", p.Request.Header.Get(requestIDHeader),
		)
	})
}
