package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/betanest/push-dispatch/internal/models"
	"github.com/betanest/push-dispatch/internal/services"
	"github.com/betanest/push-dispatch/pkg/metrics"
)

// Dispatcher runs a batch of delivery requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error)
}

// Collector performs one collection pass.
type Collector interface {
	Run(ctx context.Context) (int, []byte, error)
}

// NewRouter wires the dispatch and trigger endpoints plus health/metrics.
func NewRouter(dispatcher Dispatcher, collector Collector, metricsCollector *metrics.Metrics, logger *slog.Logger, started time.Time) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/dispatch", handleDispatch(dispatcher, logger))
	mux.HandleFunc("POST /v1/cron/notify", handleCronNotify(collector, logger))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "push dispatcher healthy",
			"meta": map[string]interface{}{
				"uptime_seconds": int(time.Since(started).Seconds()),
				"timestamp":      time.Now().UTC(),
			},
		})
	})
	mux.Handle("/metrics", metricsCollector.Handler())
	return recoverer(mux, logger)
}

func handleDispatch(dispatcher Dispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch models.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeJSON(w, http.StatusBadRequest, models.DispatchResponse{
				Results: []models.DispatchResult{},
				Error:   "invalid request body: " + err.Error(),
			})
			return
		}

		results, err := dispatcher.Dispatch(r.Context(), batch)
		if results == nil {
			results = []models.DispatchResult{}
		}
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrCredential) {
				status = http.StatusBadGateway
			}
			logger.Error("dispatch aborted", slog.Any("error", err))
			writeJSON(w, status, models.DispatchResponse{Results: results, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, models.DispatchResponse{Results: results})
	}
}

func handleCronNotify(collector Collector, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body, err := collector.Run(r.Context())
		if err != nil {
			logger.Error("collection pass failed", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}

// recoverer contains within-invocation panics at the outermost boundary so a
// bad request cannot take the process down.
func recoverer(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic while handling request",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprint(rec)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
