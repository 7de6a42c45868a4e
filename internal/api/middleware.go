package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs one line per request and records request metrics
// labelled by the matched route pattern.
func requestLogger(l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqLog := l.With(zap.String("request_id", chimiddleware.GetReqID(r.Context())))
			r = r.WithContext(logger.WithContext(r.Context(), reqLog))

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				elapsed := time.Since(start)

				metrics.APIRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
				metrics.APIRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

				reqLog.Info("request",
					zap.String("method", r.Method),
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("duration", elapsed),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
