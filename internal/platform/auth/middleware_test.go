package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(pharmacyID uuid.UUID) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "emp-42",
			Issuer:    "https://id.sihadz.dz",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:   "pharma_alger",
		PharmacyID: pharmacyID.String(),
		Name:       "Amina B.",
		IsEmployee: true,
		Roles:      []string{RoleCashier},
	}
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, *Actor, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got *Actor
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		if a, ok := ActorFromContext(c.Request().Context()); ok {
			got = &a
		}
		return c.String(http.StatusOK, "ok")
	})(c)
	return c, got, err
}

func requireStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestJWTMiddleware_MissingOrMalformedHeader(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	for _, h := range []string{"", "Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		_, _, err := runJWT(t, cfg, h)
		requireStatus(t, err, http.StatusUnauthorized)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	pid := uuid.New()
	token := createTestToken(t, validClaims(pid), testSigningKey)

	c, actor, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "https://id.sihadz.dz"}, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor == nil {
		t.Fatal("expected actor in context")
	}
	if actor.PharmacyID != pid || actor.ActorID != "emp-42" || actor.DisplayName != "Amina B." || !actor.IsEmployee {
		t.Errorf("unexpected actor: %+v", actor)
	}
	if c.Get("jwt_tenant_id") != "pharma_alger" {
		t.Errorf("expected tenant handed to tenant middleware, got %v", c.Get("jwt_tenant_id"))
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, validClaims(uuid.New()), []byte("other-key"))
	_, _, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token)
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	claims := validClaims(uuid.New())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, _, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+createTestToken(t, claims, testSigningKey))
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	token := createTestToken(t, validClaims(uuid.New()), testSigningKey)
	_, _, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "https://elsewhere"}, "Bearer "+token)
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingPharmacyClaim(t *testing.T) {
	claims := validClaims(uuid.New())
	claims.PharmacyID = ""
	_, _, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+createTestToken(t, claims, testSigningKey))
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware(t *testing.T) {
	pid := uuid.New()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	var got Actor
	err := DevAuthMiddleware(pid)(func(c echo.Context) error {
		got, _ = ActorFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PharmacyID != pid || !got.HasRole(RoleBilling) {
		t.Errorf("expected admin dev actor for %s, got %+v", pid, got)
	}
}
