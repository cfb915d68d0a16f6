package httpapi

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mnemosign/mnemosign/identity"
)

// DefaultSessionTTL bounds the lifetime of issued session tokens.
const DefaultSessionTTL = 24 * time.Hour

// SessionClaims is the JWT payload minted for a consumed challenge. The
// subject is the user's opaque public identifier.
type SessionClaims struct {
	Name    string `json:"name,omitempty"`
	Lang    string `json:"lang,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer signs session tokens for users who completed a challenge.
type SessionIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer builds an issuer signing HS256 tokens with secret.
// A non-positive ttl falls back to DefaultSessionTTL.
func NewSessionIssuer(secret []byte, issuer string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionIssuer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a signed session token carrying the user's profile.
func (s *SessionIssuer) Issue(user *identity.User) (string, error) {
	now := s.now()

	claims := SessionClaims{
		Name:    user.Name,
		Lang:    user.Lang,
		Picture: user.Image,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.secret)
}

// Parse validates a session token and returns its claims.
func (s *SessionIssuer) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	return claims, nil
}
