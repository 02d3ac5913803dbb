package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAdminIssuer = "tauth"
	bearerPrefix       = "Bearer "
)

var (
	ErrMissingAdminSigningKey = errors.New("admin validator: signing key required")
	ErrMissingAdminCookieName = errors.New("admin validator: cookie name required")
	ErrMissingAdminToken      = errors.New("admin validator: token required")
	ErrInvalidAdminToken      = errors.New("admin validator: invalid token")
	ErrExpiredAdminToken      = errors.New("admin validator: token expired")
	ErrMissingAdminSubject    = errors.New("admin validator: subject required")
	ErrAdminRoleRequired      = errors.New("admin validator: required role missing")
)

// AdminClaims mirrors the JWT payload emitted by the identity provider for administrators.
type AdminClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// AdminValidatorConfig describes how to validate administrator sessions.
type AdminValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	// RequiredRole, when set, must be present in the token's user_roles.
	RequiredRole string
	Clock        func() time.Time
}

// AdminValidator validates HS256 administrator session JWTs from a cookie or bearer header.
type AdminValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	requiredRole  string
	clock         func() time.Time
}

// NewAdminValidator constructs a validator with the provided configuration.
func NewAdminValidator(cfg AdminValidatorConfig) (*AdminValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingAdminSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingAdminCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultAdminIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		requiredRole:  strings.TrimSpace(cfg.RequiredRole),
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *AdminValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *AdminValidator) ValidateToken(tokenString string) (AdminClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return AdminClaims{}, ErrMissingAdminToken
	}

	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AdminClaims{}, ErrExpiredAdminToken
		}
		return AdminClaims{}, fmt.Errorf("%w: %v", ErrInvalidAdminToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return AdminClaims{}, ErrInvalidAdminToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return AdminClaims{}, ErrMissingAdminSubject
	}
	if v.requiredRole != "" && !slices.Contains(claims.UserRoles, v.requiredRole) {
		return AdminClaims{}, ErrAdminRoleRequired
	}
	return *claims, nil
}

// ValidateRequest reads the session cookie, falling back to a bearer header, and validates it.
func (v *AdminValidator) ValidateRequest(r *http.Request) (AdminClaims, error) {
	if r == nil {
		return AdminClaims{}, ErrMissingAdminToken
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil && cookie.Value != "" {
		return v.ValidateToken(cookie.Value)
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	return AdminClaims{}, ErrMissingAdminToken
}
