package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := NewClaims("user-1", "tenant-1", RoleOwner, time.Now(), time.Hour)
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.TenantID != "tenant-1" || parsed.Role != RoleOwner {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
}

func TestExpiredAndTenantlessTokensRejected(t *testing.T) {
	secret := "test-secret"
	expired, _ := SignHS256(NewClaims("u", "tenant-1", RoleStaff, time.Now().Add(-2*time.Hour), time.Hour), secret)
	if _, err := ParseAndVerifyHS256(expired, secret); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
	noTenant, _ := SignHS256(NewClaims("u", "", RoleStaff, time.Now(), time.Hour), secret)
	if _, err := ParseAndVerifyHS256(noTenant, secret); err == nil {
		t.Fatal("expected token without tenant to be rejected")
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	claims := NewClaims("u", "tenant-1", RoleOwner, time.Now(), time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "test-secret"); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestRequireStaff(t *testing.T) {
	secret := "test-secret"
	var got *Claims
	h := RequireStaff(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}

	customer, _ := SignHS256(NewClaims("u", "tenant-1", "customer", time.Now(), time.Hour), secret)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer role, got %d", rw.Code)
	}

	staff, _ := SignHS256(NewClaims("u", "tenant-1", RoleStaff, time.Now(), time.Hour), secret)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	req.Header.Set("Authorization", "bearer "+staff)
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent || got == nil || got.TenantID != "tenant-1" {
		t.Fatalf("expected claims in context, code=%d claims=%+v", rw.Code, got)
	}
}
