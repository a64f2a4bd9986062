package middleware

import (
	"net/http"

	"draftsync/internal/httputil"
)

// identityHeader carries the opaque caller identity attached by the
// external authentication layer (gateway/session proxy) in front of this
// service. The core trusts it without re-validating; authenticating users
// is explicitly not this service's job.
const identityHeader = "X-User-ID"

// Identity middleware lifts the caller identity into the request context.
// Requests without one still pass through - handlers decide whether a
// route requires identity (the health check and agent endpoints do not).
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := r.Header.Get(identityHeader); userID != "" {
				r = httputil.WithUserID(r, userID)
			}
			next.ServeHTTP(w, r)
		})
	}
}
