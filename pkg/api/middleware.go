package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ammar0144/recsync/pkg/logging"
)

const headerRequestID = "X-Request-Id"

// useMiddleware installs the stack shared by every route. Recoverer sits
// inside the logger so that a recovered panic is logged as a 500.
func useMiddleware(r chi.Router) {
	r.Use(chimiddleware.RequestID)
	r.Use(correlationMiddleware)
	r.Use(loggingMiddleware)
	r.Use(chimiddleware.Recoverer)
}

// correlationMiddleware makes the request id the correlation id of everything
// the request triggers and echoes it to the caller
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithCorrelationID(r.Context(), chimiddleware.GetReqID(r.Context()))
		w.Header().Set(headerRequestID, logging.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		statusCode := ww.Status()
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		log := logging.Ctx(r.Context())
		event := log.Info()
		if statusCode >= 500 {
			event = log.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", statusCode).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
