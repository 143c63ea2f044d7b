package middleware

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// StaffJWT gates back-office routes behind an HMAC-signed bearer token.
// An empty secret disables staff access entirely rather than failing open.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "staff auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := parseStaffToken(tokenString, secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseStaffToken accepts HMAC signatures only; an RS256 token that slipped
// past the CognitoOrStaffJWT dispatch must not validate here.
func parseStaffToken(tokenString, secret string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	if !token.Valid {
		return jwt.RegisteredClaims{}, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

// StaffClaimsFromContext returns staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
