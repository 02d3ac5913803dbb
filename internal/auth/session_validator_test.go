package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testAdminSigningSecret = "secret"
	testAdminCookieName    = "app_session"
	testAdminUserID        = "admin-123"
	testAdminUserEmail     = "admin@example.com"
	testAdminRole          = "judging-admin"
)

func mintAdminToken(t *testing.T, issuedAt time.Time, ttl time.Duration, roles ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		UserID:    testAdminUserID,
		UserEmail: testAdminUserEmail,
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultAdminIssuer,
			Subject:   testAdminUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(testAdminSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAdminValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewAdminValidator(AdminValidatorConfig{
		SigningSecret: []byte(testAdminSigningSecret),
		CookieName:    testAdminCookieName,
		RequiredRole:  testAdminRole,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	claims, err := validator.ValidateToken(mintAdminToken(t, clockNow, time.Hour, testAdminRole))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testAdminUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}

	if _, err := validator.ValidateToken(mintAdminToken(t, clockNow, time.Hour, "viewer")); !errors.Is(err, ErrAdminRoleRequired) {
		t.Fatalf("expected missing role error, got %v", err)
	}
}

func TestAdminValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewAdminValidator(AdminValidatorConfig{
		SigningSecret: []byte(testAdminSigningSecret),
		CookieName:    testAdminCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	expired := mintAdminToken(t, clockNow.Add(-2*time.Hour), time.Hour)
	if _, err := validator.ValidateToken(expired); !errors.Is(err, ErrExpiredAdminToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestAdminValidatorValidateRequestSources(t *testing.T) {
	validator, err := NewAdminValidator(AdminValidatorConfig{
		SigningSecret: []byte(testAdminSigningSecret),
		CookieName:    testAdminCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	signed := mintAdminToken(t, time.Now(), time.Hour)

	cookieRequest := httptest.NewRequest(http.MethodGet, "/admin/groups", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testAdminCookieName, Value: signed})
	if claims, err := validator.ValidateRequest(cookieRequest); err != nil || claims.UserID != testAdminUserID {
		t.Fatalf("cookie validation failed: %v", err)
	}

	headerRequest := httptest.NewRequest(http.MethodGet, "/admin/groups", http.NoBody)
	headerRequest.Header.Set("Authorization", "Bearer "+signed)
	if claims, err := validator.ValidateRequest(headerRequest); err != nil || claims.UserID != testAdminUserID {
		t.Fatalf("header validation failed: %v", err)
	}

	bareRequest := httptest.NewRequest(http.MethodGet, "/admin/groups", http.NoBody)
	if _, err := validator.ValidateRequest(bareRequest); !errors.Is(err, ErrMissingAdminToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestNewAdminValidatorRequiresSecretAndCookie(t *testing.T) {
	if _, err := NewAdminValidator(AdminValidatorConfig{CookieName: testAdminCookieName}); !errors.Is(err, ErrMissingAdminSigningKey) {
		t.Fatalf("expected missing signing key, got %v", err)
	}
	if _, err := NewAdminValidator(AdminValidatorConfig{SigningSecret: []byte("s")}); !errors.Is(err, ErrMissingAdminCookieName) {
		t.Fatalf("expected missing cookie name, got %v", err)
	}
}
