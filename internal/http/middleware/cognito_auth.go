package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CognitoConfig identifies the user pool whose tokens the portal accepts.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string // app client id, checked against aud / client_id
}

// CognitoClaims are the token claims the handlers read (subject, email,
// cognito:username). Both id and access tokens decode into this shape.
type CognitoClaims struct {
	jwt.RegisteredClaims
	Email           string   `json:"email"`
	EmailVerified   bool     `json:"email_verified"`
	CognitoGroups   []string `json:"cognito:groups"`
	TokenUse        string   `json:"token_use"`
	ClientID        string   `json:"client_id"`
	Username        string   `json:"username"`
	CognitoUsername string   `json:"cognito:username"`
}

const cognitoClaimsKey contextKey = "portal.cognito"

// CognitoJWT validates RS256 bearer tokens against the pool's JWKS.
// Unconfigured pools reject everything; the router falls back to StaffJWT
// in that case via CognitoOrStaffJWT.
func CognitoJWT(cfg CognitoConfig) func(http.Handler) http.Handler {
	if cfg.Region == "" || cfg.UserPoolID == "" {
		return rejectAll("patient auth disabled")
	}

	v := newCognitoVerifier(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := v.verify(tokenString)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), cognitoClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CognitoClaimsFromContext returns the validated claims, if any.
func CognitoClaimsFromContext(ctx context.Context) (*CognitoClaims, bool) {
	claims, ok := ctx.Value(cognitoClaimsKey).(*CognitoClaims)
	return claims, ok
}

// cognitoVerifier checks signature, issuer, expiry, and audience for one
// user pool. Signing keys are cached for an hour; a kid miss inside the
// window forces a refetch since Cognito rotates keys without notice.
type cognitoVerifier struct {
	issuer   string
	jwksURL  string
	clientID string

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

const jwksRefreshInterval = time.Hour

func newCognitoVerifier(cfg CognitoConfig) *cognitoVerifier {
	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", cfg.Region, cfg.UserPoolID)
	return &cognitoVerifier{
		issuer:   issuer,
		jwksURL:  issuer + "/.well-known/jwks.json",
		clientID: cfg.ClientID,
	}
}

func (v *cognitoVerifier) verify(tokenString string) (*CognitoClaims, error) {
	claims := &CognitoClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyForToken,
		jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if v.clientID != "" {
		switch claims.TokenUse {
		case "id":
			aud, _ := claims.GetAudience()
			if !containsString(aud, v.clientID) {
				return nil, errors.New("token issued for a different client")
			}
		case "access":
			if claims.ClientID != v.clientID {
				return nil, errors.New("token issued for a different client")
			}
		}
	}

	return claims, nil
}

// keyForToken is the jwt.Keyfunc: it insists on RSA and resolves the kid
// against the cached JWKS.
func (v *cognitoVerifier) keyForToken(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("middleware: token signed with %v, want RSA", t.Header["alg"])
	}
	kid, ok := t.Header["kid"].(string)
	if !ok {
		return nil, errors.New("middleware: token header has no kid")
	}
	return v.publicKey(kid)
}

func (v *cognitoVerifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fresh := time.Since(v.fetched) < jwksRefreshInterval
	if fresh {
		if key, ok := v.keys[kid]; ok {
			return key, nil
		}
	}

	keys, err := fetchJWKS(v.jwksURL)
	if err != nil {
		if key, ok := v.keys[kid]; ok {
			// Serve the stale key rather than failing auth on a JWKS blip.
			return key, nil
		}
		return nil, err
	}
	v.keys = keys
	v.fetched = time.Now()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("middleware: jwks has no key %s", kid)
	}
	return key, nil
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

var jwksClient = &http.Client{Timeout: 10 * time.Second}

// fetchJWKS downloads the pool's key set, keeping only RSA keys that parse.
func fetchJWKS(url string) (map[string]*rsa.PublicKey, error) {
	resp, err := jwksClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("middleware: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("middleware: jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("middleware: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("middleware: jwks held no usable RSA keys")
	}
	return keys, nil
}

// parseRSAPublicKey rebuilds an RSA public key from JWK base64url components.
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("middleware: decode jwk modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("middleware: decode jwk exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// CognitoOrStaffJWT routes each bearer token to the right validator: portal
// traffic carries Cognito RS256 tokens with a kid, back-office tooling signs
// HMAC staff tokens without one.
func CognitoOrStaffJWT(cognitoCfg CognitoConfig, staffSecret string) func(http.Handler) http.Handler {
	cognitoMW := CognitoJWT(cognitoCfg)
	staffMW := StaffJWT(staffSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			if isCognitoToken(tokenString) {
				cognitoMW(next).ServeHTTP(w, r)
				return
			}
			staffMW(next).ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

// isCognitoToken peeks at the unverified JOSE header for RS256 plus a kid.
func isCognitoToken(tokenString string) bool {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return false
	}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	var header map[string]interface{}
	if json.Unmarshal(headerBytes, &header) != nil {
		return false
	}
	alg, _ := header["alg"].(string)
	_, hasKid := header["kid"]
	return alg == "RS256" && hasKid
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

// rejectAll is installed in place of an auth scheme that is not configured:
// every request gets a 401 with the given reason.
func rejectAll(reason string) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, reason, http.StatusUnauthorized)
		})
	}
}
