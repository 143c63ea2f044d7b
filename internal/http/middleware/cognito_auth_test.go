package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

// jwksServer serves a single-key JWKS document the way a Cognito pool would.
func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	doc := jwksResponse{
		Keys: []jwkKey{{
			Kid: kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
}

func TestCognitoJWTRejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  CognitoConfig
		auth string
	}{
		{"pool not configured", CognitoConfig{}, ""},
		{"no bearer token", CognitoConfig{Region: "us-east-1", UserPoolID: "us-east-1_TEST"}, ""},
		{"wrong scheme", CognitoConfig{Region: "us-east-1", UserPoolID: "us-east-1_TEST"}, "Basic Zm9vOmJhcg=="},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/portal/summary", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()

			reached := false
			CognitoJWT(tc.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			})).ServeHTTP(rec, req)

			if reached {
				t.Fatal("request passed the middleware")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("got status %d, want 401", rec.Code)
			}
		})
	}
}

func TestCognitoOrStaffJWTFallsBackToStaff(t *testing.T) {
	// With no pool configured, an HS256 staff token must still get through.
	mw := CognitoOrStaffJWT(CognitoConfig{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/portal/summary", nil)
	req.Header.Set("Authorization", "Bearer "+signedStaffToken(t, "secret"))
	rec := httptest.NewRecorder()

	reached := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("staff fallback rejected the request: reached=%v status=%d", reached, rec.Code)
	}
}

func TestIsCognitoTokenDispatch(t *testing.T) {
	if isCognitoToken(signedStaffToken(t, "secret")) {
		t.Fatal("HS256 staff token must not route to cognito")
	}
	if isCognitoToken("not-a-jwt") {
		t.Fatal("malformed token should fall through to staff auth")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{Subject: "user-1"})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(newRSAKey(t))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if !isCognitoToken(signed) {
		t.Fatal("RS256 token with kid should route to cognito")
	}
}

func TestCognitoVerifierVerify(t *testing.T) {
	key := newRSAKey(t)
	server := jwksServer(t, "kid-1", &key.PublicKey)
	defer server.Close()

	v := &cognitoVerifier{
		issuer:   "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_TEST",
		jwksURL:  server.URL,
		clientID: "client-1",
	}

	sign := func(claims CognitoClaims) string {
		t.Helper()
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "kid-1"
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}

	base := jwt.RegisteredClaims{
		Issuer:    v.issuer,
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	idClaims := CognitoClaims{RegisteredClaims: base, Email: "user@example.com", TokenUse: "id"}
	idClaims.Audience = jwt.ClaimStrings{"client-1"}
	got, err := v.verify(sign(idClaims))
	if err != nil {
		t.Fatalf("verify id token: %v", err)
	}
	if got.Email != "user@example.com" {
		t.Fatalf("unexpected email %q", got.Email)
	}

	wrongAud := CognitoClaims{RegisteredClaims: base, TokenUse: "id"}
	wrongAud.Audience = jwt.ClaimStrings{"other-client"}
	if _, err := v.verify(sign(wrongAud)); err == nil {
		t.Fatal("id token with a foreign audience verified")
	}

	access := CognitoClaims{RegisteredClaims: base, TokenUse: "access", ClientID: "client-1"}
	if _, err := v.verify(sign(access)); err != nil {
		t.Fatalf("verify access token: %v", err)
	}

	expired := CognitoClaims{RegisteredClaims: base, TokenUse: "access", ClientID: "client-1"}
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := v.verify(sign(expired)); err == nil {
		t.Fatal("expired token verified")
	}
}

func TestCognitoVerifierServesStaleKeyOnFetchFailure(t *testing.T) {
	key := newRSAKey(t)
	v := &cognitoVerifier{
		jwksURL: "http://127.0.0.1:0/jwks.json",
		keys:    map[string]*rsa.PublicKey{"kid-1": &key.PublicKey},
		fetched: time.Now().Add(-2 * jwksRefreshInterval),
	}

	got, err := v.publicKey("kid-1")
	if err != nil {
		t.Fatalf("cached key not served on fetch failure: %v", err)
	}
	if got != &key.PublicKey {
		t.Fatal("served key is not the cached instance")
	}

	if _, err := v.publicKey("unknown-kid"); err == nil {
		t.Fatal("unknown kid resolved while refresh is failing")
	}
}

func TestParseRSAPublicKeyRoundTrip(t *testing.T) {
	pub := newRSAKey(t).PublicKey

	parsed, err := parseRSAPublicKey(
		base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	)
	if err != nil {
		t.Fatalf("parse rsa key: %v", err)
	}
	if parsed.N.Cmp(pub.N) != 0 || parsed.E != pub.E {
		t.Fatal("parsed key does not match original")
	}
}

func TestFetchJWKS(t *testing.T) {
	t.Run("returns keys", func(t *testing.T) {
		key := newRSAKey(t)
		server := jwksServer(t, "test-kid", &key.PublicKey)
		defer server.Close()

		keys, err := fetchJWKS(server.URL)
		if err != nil {
			t.Fatalf("fetch jwks: %v", err)
		}
		got := keys["test-kid"]
		if got == nil {
			t.Fatal("kid missing from fetched set")
		}
		if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
			t.Fatal("fetched key does not match original")
		}
	})

	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		if _, err := fetchJWKS(server.URL); err == nil {
			t.Fatal("non-200 response did not error")
		}
	})

	t.Run("no usable keys", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"keys":[{"kid":"ec-1","kty":"EC","alg":"ES256"}]}`))
		}))
		defer server.Close()

		if _, err := fetchJWKS(server.URL); err == nil {
			t.Fatal("EC-only key set did not error")
		}
	})
}

func TestCognitoClaimsFromContext(t *testing.T) {
	if _, ok := CognitoClaimsFromContext(context.Background()); ok {
		t.Fatal("claims found in an empty context")
	}

	claims := &CognitoClaims{Email: "user@example.com"}
	ctx := context.WithValue(context.Background(), cognitoClaimsKey, claims)
	got, ok := CognitoClaimsFromContext(ctx)
	if !ok || got.Email != "user@example.com" {
		t.Fatalf("got %+v ok=%v, want stored claims", got, ok)
	}
}
