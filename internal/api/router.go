package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter mounts the offer service, the payment callback, health checks
// and metrics.
func NewRouter(offers *OfferServer, callback http.Handler, db Pinger, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "funhub-offers",
			"hostname": hostname,
		})
	})

	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "error",
				"message": "postgres unavailable",
			})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "postgres": "connected"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Method(http.MethodPost, "/payment/mpay/callback", callback)

	path, handler := NewOfferServiceHandler(offers)
	r.Handle(path+"*", handler)

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
