// Package jwt issues and verifies the bearer tokens that carry a
// txctx.Identity across the wire, the same claims/sign/parse shape the
// teacher's authn package uses.
package jwt

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/config"
	"github.com/forbearing/tol/txctx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const MinUserIDLength = 1

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenNotValidYet = errors.New("token not valid yet")
)

var (
	secret = []byte("change-me")
	issuer = "tol"
	expire = 24 * time.Hour

	// revoked tracks logged-out tokens until they would have expired
	// anyway, the same bounded expirable.LRU shape the teacher's authn
	// package uses for its session cache; entries self-evict so a logout
	// storm can't grow this without bound.
	revoked *expirable.LRU[string, struct{}]
)

// Init loads the signing key and expiry from config; call once at startup.
func Init() error {
	cfg := config.App.Auth
	if len(cfg.JwtSigningKey) > 0 {
		secret = []byte(cfg.JwtSigningKey)
	}
	if cfg.JwtExpire > 0 {
		expire = cfg.JwtExpire
	}
	revoked = expirable.NewLRU[string, struct{}](0, nil, expire)
	return nil
}

// Revoke blacklists tok until its natural expiry, for an explicit logout
// (spec.md has no session store of its own; the token itself is the
// session, so revocation is just a deny-list with the same TTL).
func Revoke(tok string) {
	if revoked == nil {
		return
	}
	revoked.Add(tok, struct{}{})
}

// Claims carries the identity fields needed to reconstruct a
// txctx.Identity on the receiving side.
type Claims struct {
	UserID     string   `json:"user_id,omitempty"`
	Privileges []string `json:"privileges,omitempty"`
	Superuser  bool     `json:"superuser,omitempty"`

	jwt.RegisteredClaims
}

// GenToken signs a token embedding identity, valid for the configured
// expiry window.
func GenToken(identity txctx.Identity) (string, error) {
	if len(identity.UserID) < MinUserIDLength {
		return "", errors.New("invalid user id")
	}
	now := jwt.NewNumericDate(time.Now())
	claims := Claims{
		UserID:     identity.UserID,
		Privileges: identity.Privileges,
		Superuser:  identity.Superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  now,
			NotBefore: now,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expire)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates tok and reconstructs the identity it carries.
func ParseToken(tok string) (txctx.Identity, error) {
	tok = strings.TrimPrefix(tok, "Bearer ")
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return txctx.Identity{}, ErrInvalidToken
	}
	if revoked != nil {
		if _, ok := revoked.Get(tok); ok {
			return txctx.Identity{}, ErrInvalidToken
		}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return txctx.Identity{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return txctx.Identity{}, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return txctx.Identity{}, ErrTokenNotValidYet
		default:
			return txctx.Identity{}, ErrInvalidToken
		}
	}
	if !parsed.Valid {
		return txctx.Identity{}, ErrInvalidToken
	}

	return txctx.Identity{
		UserID:     claims.UserID,
		Privileges: claims.Privileges,
		Superuser:  claims.Superuser,
	}, nil
}

// FromRequest extracts and validates the bearer token from the
// Authorization header.
func FromRequest(r *http.Request) (txctx.Identity, error) {
	return ParseToken(r.Header.Get("Authorization"))
}
