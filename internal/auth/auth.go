// Package auth validates and issues the HS256 bearer tokens accepted by the
// publishing API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrMissingToken    = fmt.Errorf("%w: authorization header is missing", ErrUnauthenticated)
	ErrTokenExpired    = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrTokenInvalid    = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
)

const defaultCacheSize = 4096

// Claims is the authenticated subject extracted from a token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspector resolves a raw bearer token to its claims.
type Inspector interface {
	Inspect(token string) (Claims, error)
}

// Validator checks HS256 signatures and expiry.
type Validator struct {
	secret []byte
	// [HOT_PATH] Publishers reuse the same token for many requests; skip re-verifying.
	cache *lru.Cache[string, Claims]
	now   func() time.Time
}

var _ Inspector = (*Validator)(nil)

func NewValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	cache, err := lru.New[string, Claims](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("auth: token cache: %w", err)
	}
	return &Validator{secret: []byte(secret), cache: cache, now: time.Now}, nil
}

func (v *Validator) Inspect(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrMissingToken
	}

	if c, ok := v.cache.Get(raw); ok {
		if !c.ExpiresAt.IsZero() && !v.now().Before(c.ExpiresAt) {
			v.cache.Remove(raw)
			return Claims{}, ErrTokenExpired
		}
		return c, nil
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if tok.Subject() == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrTokenInvalid)
	}

	c := Claims{Subject: tok.Subject(), ExpiresAt: tok.Expiration()}
	v.cache.Add(raw, c)
	return c, nil
}

// Issue signs a token for subject that expires after ttl.
func Issue(subject string, ttl time.Duration, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty signing secret")
	}
	now := time.Now()

	tok, err := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("auth: build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return string(signed), nil
}
