// Package auth resolves authenticated identities from JWT bearer tokens.
//
// The gateway does not enforce authentication: requiring a valid session
// belongs to the downstream chat application. This package only *resolves*
// identity so the policy pipeline can apply role checks and audit logging
// to authenticated callers. Requests without a usable token flow through
// as anonymous.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-gateway/internal/pipeline"
)

type ctxKey string

const ctxIdentity ctxKey = "identity"

// FromContext retrieves the resolved identity from the context, or nil if
// the request is anonymous.
func FromContext(ctx context.Context) *pipeline.Identity {
	if id, ok := ctx.Value(ctxIdentity).(*pipeline.Identity); ok {
		return id
	}
	return nil
}

// WithIdentity adds a resolved identity to the context.
func WithIdentity(ctx context.Context, id *pipeline.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// Middleware resolves the Authorization header into a pipeline.Identity.
//
// Resolution rules:
//   - No Authorization header, or no Bearer prefix: anonymous.
//   - Invalid, expired, or wrongly-signed token: anonymous. The request is
//     not rejected here; the downstream application owns that decision.
//   - Valid token: Identity{Name: sub claim, Role: role claim}. A missing
//     role claim leaves Role empty, which the pipeline treats as the
//     least-privileged role.
func Middleware(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolveIdentity(r.Header.Get("Authorization"), secret)
			if err != nil || id == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// resolveIdentity parses and validates a bearer token. It returns (nil, nil)
// when no token is present, and an error for present-but-invalid tokens.
func resolveIdentity(authz string, secret []byte) (*pipeline.Identity, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return nil, nil
	}
	tokenString := strings.TrimPrefix(authz, prefix)

	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	if exp, ok := claims["exp"].(float64); !ok || int64(exp) < time.Now().Unix() {
		return nil, errors.New("token expired")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("invalid sub claim")
	}

	// The role claim is optional: the pipeline defaults an absent role to
	// the least-privileged one.
	role, _ := claims["role"].(string)

	return &pipeline.Identity{Name: sub, Role: role}, nil
}

// ValidateSecret checks JWT_SECRET strength requirements at startup.
// Misconfiguration here must stop the process, not surface per request.
func ValidateSecret(secret string) error {
	if secret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if len(secret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters (256 bits)")
	}
	weakSecrets := []string{"secret", "password", "test", "admin", "default"}
	for _, weak := range weakSecrets {
		if secret == weak || secret == weak+"123" {
			return errors.New("JWT_SECRET must not be a common weak value")
		}
	}
	return nil
}
