package middleware

import (
	"net/http"
	"time"

	"chat-gateway/internal/handler/http/auth"
	"chat-gateway/internal/handler/http/respond"
	"chat-gateway/internal/observability/metrics"
	"chat-gateway/internal/pipeline"
)

// statusRecorder wraps http.ResponseWriter to capture the downstream
// status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Pipeline returns middleware that runs every request through the policy
// chain before the downstream handler.
//
// The request descriptor (method, path, client key, resolved identity,
// arrival time) is assembled once here and is read-only for the traversal.
// A rejecting stage produces a JSON error response with the stage's status
// code and reason; the downstream handler is not invoked.
func Pipeline(chain *pipeline.Chain, resolver KeyResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := &pipeline.Request{
				Method:     r.Method,
				Path:       r.URL.Path,
				ClientKey:  resolver.ResolveKey(r),
				Identity:   auth.FromContext(r.Context()),
				ReceivedAt: time.Now(),
			}

			decision := chain.Check(r.Context(), req)
			if !decision.Allowed {
				metrics.RecordHTTPRequest(r.Method, decision.Status)
				respond.Error(w, decision.Status, decision.Reason)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			metrics.RecordHTTPRequest(r.Method, rec.status)
		})
	}
}
