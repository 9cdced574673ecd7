package daemon

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"rmcloud/internal/logging"
	"rmcloud/internal/services"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

// statusRecorder captures the response code and size for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe assigns a request id, records metrics and writes the access log.
func (s *apiServer) observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(services.WithRequestID(r.Context(), requestID))

		logger := logging.WithContext(r.Context(), s.logger)
		if s.cfg.Server.LogHeaders {
			logger.Debug("request headers", logging.Any("headers", redactHeaders(r.Header)))
		}

		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		elapsed := time.Since(start)
		s.comp.Metrics.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
		logger.Info("http request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", rec.status),
			logging.Int("bytes", rec.bytes),
			logging.Duration("elapsed", elapsed),
			logging.String("remote", r.RemoteAddr),
		)
	}
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Cookie":
			out[name] = "<redacted>"
		default:
			out[name] = strings.Join(values, ", ")
		}
	}
	return out
}
