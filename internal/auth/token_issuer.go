package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionAudience = "jury-judges"

var (
	ErrMissingSigningSecret = errors.New("session tokens: signing secret must be provided")
	ErrMissingIssuer        = errors.New("session tokens: issuer must be provided")
	ErrNegativeTTL          = errors.New("session tokens: ttl must not be negative")
	ErrMissingJudgeID       = errors.New("session tokens: judge id must be provided")
	ErrMissingSessionID     = errors.New("session tokens: session id must be provided")
	ErrInvalidToken         = errors.New("session tokens: invalid token")
	ErrExpiredToken         = errors.New("session tokens: token expired")
)

// TokenIssuerConfig configures the judge session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	// TokenTTL bounds token lifetime. Zero issues tokens without an expiry claim.
	TokenTTL time.Duration
	Clock    func() time.Time
}

// SessionToken identifies the judge and the session rotation a token was minted for.
type SessionToken struct {
	JudgeID   string
	SessionID string
}

// TokenIssuer mints and parses the opaque bearer tokens handed to judge clients.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	if cfg.TokenTTL < 0 {
		return nil, ErrNegativeTTL
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultSessionAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// Issue produces a signed token for the judge and session rotation.
func (i *TokenIssuer) Issue(session SessionToken) (string, error) {
	if strings.TrimSpace(session.JudgeID) == "" {
		return "", ErrMissingJudgeID
	}
	if strings.TrimSpace(session.SessionID) == "" {
		return "", ErrMissingSessionID
	}

	now := i.clock().UTC()
	registered := jwt.RegisteredClaims{
		Subject:  session.JudgeID,
		ID:       session.SessionID,
		Issuer:   i.issuer,
		Audience: []string{i.audience},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		registered.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(i.signingSecret)
}

// Parse verifies the token signature, issuer and audience and returns the embedded session.
func (i *TokenIssuer) Parse(tokenString string) (SessionToken, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionToken{}, ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(parsed *jwt.Token) (interface{}, error) {
			if parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", parsed.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionToken{}, ErrExpiredToken
		}
		return SessionToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return SessionToken{}, ErrInvalidToken
	}
	return SessionToken{JudgeID: claims.Subject, SessionID: claims.ID}, nil
}
