// Package middleware extracts the caller identity resolved by the
// upstream auth layer. The headers are trusted as-is; credential
// validation is not this service's job.
package middleware

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
)

type ctxKey int

const identityKey ctxKey = 0

// Identity is the opaque caller identity: a registered user, an
// anonymous session, or neither. IsAdmin is only ever set by the
// gateway for staff traffic.
type Identity struct {
	UserID    *uuid.UUID
	SessionID *string
	IsAdmin   bool
}

// Auth reads X-User-ID, X-Session-ID and X-Admin into the request
// context.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ident Identity

		if raw := r.Header.Get("X-User-ID"); raw != "" {
			if id, err := uuid.FromString(raw); err == nil {
				ident.UserID = &id
			}
		}
		if ident.UserID == nil {
			if sid := r.Header.Get("X-Session-ID"); sid != "" {
				ident.SessionID = &sid
			}
		}
		ident.IsAdmin = r.Header.Get("X-Admin") == "true"

		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the identity stored by Auth, or a zero identity
// for unauthenticated requests.
func IdentityFrom(ctx context.Context) Identity {
	ident, _ := ctx.Value(identityKey).(Identity)
	return ident
}

// RequireAdmin guards staff-only routes.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFrom(r.Context()).IsAdmin {
			http.Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
