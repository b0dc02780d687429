package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keygate/keygate/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Authenticate returns an HTTP middleware that resolves the request's
// Authorization header to a principal. Both credential families travel the
// same way: "Authorization: Bearer <value>", where the value is either a
// session token or an API key secret.
//
// Every validation failure is answered with the same 401 body so callers
// cannot distinguish a revoked key from one that never existed; the precise
// failure kind is recorded in the log.
func Authenticate(authSvc *service.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerValue(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}

			principal, err := authSvc.ValidateBearer(r.Context(), bearer)
			if err != nil {
				if isCredentialError(err) {
					logger.Warn("authentication rejected",
						"reason", err.Error(),
						"kind", string(service.KindOf(bearer)),
						"request_id", GetRequestID(r.Context()),
						"remote_addr", r.RemoteAddr,
					)
					writeAuthError(w, http.StatusUnauthorized, "Invalid or expired credentials")
					return
				}
				logger.Error("authentication failed", "error", err,
					"request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

func bearerValue(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	value := strings.TrimPrefix(header, "Bearer ")
	if value == "" {
		return "", false
	}
	return value, true
}

func isCredentialError(err error) bool {
	return errors.Is(err, service.ErrCredentialNotFound) ||
		errors.Is(err, service.ErrCredentialExpired) ||
		errors.Is(err, service.ErrCredentialRevoked) ||
		errors.Is(err, service.ErrCredentialMalformed)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	default:
		return "500"
	}
}
