package token

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 60 * time.Minute

// ErrInvalidToken covers every decode, signature, and expiry failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated subject and its authorization flag.
type Claims struct {
	UserID      string
	IsSuperuser bool
}

type tokenClaims struct {
	Superuser bool `json:"su,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer with the given signing secret and token
// lifetime. A non-positive ttl falls back to 60 minutes.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Issue signs a token for the subject with the superuser flag as a claim.
func (i *Issuer) Issue(userID string, superuser bool) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("token subject is required")
	}
	now := i.now()
	claims := tokenClaims{
		Superuser: superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify validates signature and expiry and returns the embedded claims.
func (i *Issuer) Verify(raw string) (Claims, error) {
	claims := tokenClaims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{UserID: subject, IsSuperuser: claims.Superuser}, nil
}
