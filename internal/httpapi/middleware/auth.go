package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorizer decides whether a request may see status data at all.
type Authorizer interface {
	Authorized(r *http.Request) bool
}

// AdminAuthorizer additionally recognises administrative callers.
type AdminAuthorizer interface {
	Authorizer
	Admin(r *http.Request) bool
}

// Keys authorizes requests carrying one of its API keys, either as
// "Authorization: Bearer <key>" or "X-API-Key: <key>". An empty key set
// authorizes nobody.
type Keys struct {
	PublicKeys []string
	AdminKeys  []string
}

func (k Keys) Authorized(r *http.Request) bool {
	key := readAuth(r)
	return hasKey(key, k.PublicKeys) || hasKey(key, k.AdminKeys)
}

func (k Keys) Admin(r *http.Request) bool {
	return hasKey(readAuth(r), k.AdminKeys)
}

// AllowAll authorizes every request as admin. Only for auth.disabled.
type AllowAll struct{}

func (AllowAll) Authorized(*http.Request) bool { return true }
func (AllowAll) Admin(*http.Request) bool      { return true }

func readAuth(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return strings.TrimSpace(k)
	}
	return ""
}

func hasKey(given string, set []string) bool {
	if given == "" {
		return false
	}
	found := false
	for _, k := range set {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(given)) == 1 {
			found = true
		}
	}
	return found
}

// RequireAuth answers 401 before the handler can touch any data.
func RequireAuth(a Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Authorized(r) {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin answers 401 without a valid key and 403 for a valid
// non-admin key.
func RequireAdmin(a AdminAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case a.Admin(r):
				next.ServeHTTP(w, r)
			case a.Authorized(r):
				deny(w, http.StatusForbidden, "forbidden")
			default:
				deny(w, http.StatusUnauthorized, "unauthorized")
			}
		})
	}
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
