package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// publicPaths are reachable without a bearer token. The /sign/ subtree
// authenticates with the share token embedded in the path, and the validator
// takes possession of the exact file bytes as its credential.
var publicPaths = []string{
	"/health",
	"/documents/validate-file",
}

func isPublicPath(path string) bool {
	if strings.HasPrefix(path, "/sign/") {
		return true
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware authenticates every non-public request. A nil verifier
// rejects all non-public traffic (fail closed).
func NewMiddleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "expected 'Bearer <token>' Authorization header")
				return
			}

			if verifier == nil {
				unauthorized(w, "authentication not configured")
				return
			}

			claims, err := verifier.Validate(parts[1])
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				unauthorized(w, "token subject is required")
				return
			}
			if claims.TenantID == "" {
				unauthorized(w, "token tenant binding is required")
				return
			}

			role := model.Role(claims.Role)
			if role == "" {
				role = model.RoleUser
			}
			principal := Principal{
				UserID:   claims.Subject,
				TenantID: claims.TenantID,
				Role:     role,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
