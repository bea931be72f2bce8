// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// AdminTokenAuth guards the operator routes of one experiment, such as
// agent registration. With no token configured the routes stay open, which
// is how a local in-process run registers its own agents.
//
// Challenges carry the experiment as the realm so an operator holding
// tokens for several experiments can tell which one was refused.
func AdminTokenAuth(experiment, adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	adminToken = strings.TrimSpace(adminToken)
	realm := "marketplace"
	if experiment != "" {
		realm = "marketplace/" + experiment
	}

	return func(next http.Handler) http.Handler {
		if adminToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", realm))
				http.Error(w, "operator token required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				logger.Warn("operator request refused",
					"experiment", experiment,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q, error=\"invalid_token\"", realm))
				http.Error(w, "operator token does not match this experiment", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
