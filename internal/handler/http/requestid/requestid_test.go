package requestid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	var fromCtx string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, fromCtx)
	_, err := uuid.Parse(fromCtx)
	assert.NoError(t, err)
	assert.Equal(t, fromCtx, w.Header().Get(RequestIDHeader))
}

func TestMiddleware_PropagatesExistingRequestID(t *testing.T) {
	var fromCtx string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "upstream-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "upstream-id", fromCtx)
	assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}
