package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Practice-Id"
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsExposeHeaders = "X-Request-Id"
	corsMaxAge        = "600"
)

// CORS answers browser cross-origin checks against a configured allowlist.
// An entry of "*" admits every origin; the matched origin is always echoed
// back rather than the wildcard so credentialed requests keep working.
// X-Request-Id is exposed so frontends can surface it in support tickets.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := newOriginSet(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Caches must key on Origin even when we reject it.
			w.Header().Add("Vary", "Origin")

			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if allowed.match(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}

			if isPreflight(r) {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type originSet struct {
	any     bool
	origins map[string]struct{}
}

func newOriginSet(entries []string) originSet {
	set := originSet{origins: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
		case "*":
			set.any = true
		default:
			set.origins[entry] = struct{}{}
		}
	}
	return set
}

func (s originSet) match(origin string) bool {
	if origin == "" {
		return false
	}
	if s.any {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}
