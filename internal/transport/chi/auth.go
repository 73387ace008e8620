package chi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	logpkg "github.com/kailas-cloud/cmskit/internal/logger"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware returns a middleware that validates Bearer tokens
// and stores the principal owning the token in the request context.
// If principals is empty, authentication is disabled (pass-through) and
// requests carry no principal.
func BearerAuthMiddleware(principals map[string]auth.Principal) func(http.Handler) http.Handler {
	valid := make(map[string]auth.Principal, len(principals))
	for k, p := range principals {
		if k != "" {
			valid[k] = p
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled, pass everything through
		if len(valid) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, http.StatusUnauthorized,
					CodeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			p, ok := valid[header[len(bearerPrefix):]]
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}

			ctx := logpkg.With(auth.WithPrincipal(r.Context(), p), zap.String("principal", p.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
