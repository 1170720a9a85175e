package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/smarthospital/vitals/pkg/common/apierror"
	"github.com/smarthospital/vitals/pkg/common/logger"
	"github.com/smarthospital/vitals/pkg/devices"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
)

type contextKey string

const principalContextKey contextKey = "principal"

// APIKeyHeader carries the caller credential. It is deliberately not the
// Authorization header.
const APIKeyHeader = "X-API-Key"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Ensure a request ID exists
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		r.Header.Set("X-Request-ID", reqID)
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"remote_addr": r.RemoteAddr,
			"request_id":  reqID,
			"duration":    time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithField("error", err).Error("Panic recovered")
				apierror.Write(w, apierror.Internal())
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Instrument records request latency labelled with the matched route template.
func Instrument(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(r.Method, route, rec.status, time.Since(start))
		})
	}
}

func BodyLimit(maxBytes int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type Authorizer interface {
	Authorize(ctx context.Context, credential string) (devices.Principal, error)
}

// RequireCredential rejects requests whose X-API-Key is missing or unknown and
// stores the resolved principal in the request context.
func RequireCredential(guard Authorizer, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := guard.Authorize(r.Context(), r.Header.Get(APIKeyHeader))
			switch {
			case err == nil:
			case errors.Is(err, devices.ErrMissingCredential):
				m.AuthRejected(apierror.CodeMissingCredential)
				apierror.Write(w, apierror.MissingCredential())
				return
			case errors.Is(err, devices.ErrInvalidCredential):
				m.AuthRejected(apierror.CodeInvalidCredential)
				apierror.Write(w, apierror.InvalidCredential())
				return
			default:
				logger.Log.WithError(err).Error("credential check failed")
				apierror.Write(w, apierror.Internal())
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFrom(ctx context.Context) (devices.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(devices.Principal)
	return p, ok
}
