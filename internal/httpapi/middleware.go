package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey int

const logCtxKey ctxKey = 0

// requestLog is the per-request structured log accumulator, mirroring the
// original's Context.log map: handlers add fields as they learn them, and
// the middleware emits one JSON line per request on the way out.
type requestLog struct {
	mu     sync.Mutex
	fields []zap.Field
}

func (l *requestLog) Set(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, zap.Any(key, value))
}

func requestLogFrom(r *http.Request) *requestLog {
	lc, _ := r.Context().Value(logCtxKey).(*requestLog)
	return lc
}

// loggingMiddleware attaches a per-request log accumulator to the request
// context and emits one structured line per request, the Go equivalent of
// the reference implementation's ContextTransform actix middleware.
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lc := &requestLog{}
			ctx := context.WithValue(r.Context(), logCtxKey, lc)

			requestID := r.Header.Get("x-request-id")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if logger == nil {
				return
			}

			fields := []zap.Field{
				zap.Int64("timestamp", start.UnixMilli()),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("x-request-id", requestID),
				zap.Int("status", rec.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			fields = append(fields, lc.fields...)
			logger.Info("request", fields...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
