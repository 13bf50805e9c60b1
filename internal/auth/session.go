// Package auth validates the session tokens that the external sign-in provider hands to
// devices. Both the API server and the device read the owner identity from them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "mideita"
	bearerScheme         = "Bearer"
)

var (
	ErrMissingSessionSigningKey = errors.New("auth: session signing key required")
	ErrMissingSessionCookieName = errors.New("auth: session cookie name required")
	ErrMissingSessionToken      = errors.New("auth: session token required")
	ErrInvalidSessionToken      = errors.New("auth: invalid session token")
	ErrExpiredSessionToken      = errors.New("auth: session token expired")
	ErrMissingSessionOwner      = errors.New("auth: session carries no owner")
)

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// OwnerID is the canonical owner of ideas created under this session. A provider
// prefix such as "google:" is dropped; the registered subject, the user id and the
// email are tried in that order.
func (c SessionClaims) OwnerID() string {
	if provider, subject, found := strings.Cut(strings.TrimSpace(c.UserID), ":"); found {
		if strings.TrimSpace(provider) != "" && strings.TrimSpace(subject) != "" {
			return strings.TrimSpace(subject)
		}
	}
	for _, candidate := range []string{c.Subject, c.UserID, c.UserEmail} {
		if owner := strings.TrimSpace(candidate); owner != "" {
			return owner
		}
	}
	return ""
}

// SessionValidatorConfig configures token validation.
type SessionValidatorConfig struct {
	SigningSecret []byte
	// Issuer defaults to the provider's issuer when empty.
	Issuer     string
	CookieName string
	Clock      func() time.Time
}

// SessionValidator checks HS256 session tokens from a cookie or a bearer header.
type SessionValidator struct {
	secret     []byte
	issuer     string
	cookieName string
	parser     *jwt.Parser
}

func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		secret:     append([]byte(nil), cfg.SigningSecret...),
		issuer:     issuer,
		cookieName: cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

func (v *SessionValidator) Issuer() string {
	return v.issuer
}

// ValidateToken parses token and returns its claims.
func (v *SessionValidator) ValidateToken(token string) (SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	var claims SessionClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return SessionClaims{}, ErrExpiredSessionToken
	case err != nil:
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if claims.OwnerID() == "" {
		return SessionClaims{}, ErrMissingSessionOwner
	}
	return claims, nil
}

// ValidateRequest validates the session cookie, or the bearer token when no cookie is set.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(v.requestToken(r))
}

func (v *SessionValidator) requestToken(r *http.Request) string {
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if found && strings.EqualFold(scheme, bearerScheme) {
		return token
	}
	return ""
}
