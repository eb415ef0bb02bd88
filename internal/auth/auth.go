// Package auth provides the authorization capability every mutating engine
// operation requires, and the HMAC-signed bearer tokens the HTTP host uses
// to mint capabilities for callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("auth: missing authority")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoSecret     = errors.New("auth: signing secret not configured")
)

// Capability is proof that the current operation runs with the authority of
// one identity. The zero Capability authorizes nothing.
type Capability struct {
	subject string
}

// Grant returns a capability for subject. Only hosts that have already
// authenticated subject should call it.
func Grant(subject string) Capability {
	return Capability{subject: subject}
}

// Subject returns the identity this capability speaks for.
func (c Capability) Subject() string { return c.subject }

// Authorizes returns nil if c carries the authority of identity.
func (c Capability) Authorizes(identity string) error {
	if c.subject == "" || identity == "" || c.subject != identity {
		return fmt.Errorf("%w of %q", ErrUnauthorized, identity)
	}
	return nil
}

// Signer issues and verifies HS256 bearer tokens whose "sub" claim names the
// identity.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

// NewSigner creates a signer. ttl bounds the lifetime of issued tokens.
func NewSigner(secret, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{
		secret: []byte(strings.TrimSpace(secret)),
		issuer: issuer,
		ttl:    ttl,
		leeway: 30 * time.Second,
	}
}

// Issue returns a signed token for subject.
func (s *Signer) Issue(subject string, now time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the token signature, issuer and expiry and returns the
// capability of its subject.
func (s *Signer) Verify(token string) (Capability, error) {
	if len(s.secret) == 0 {
		return Capability{}, ErrNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Capability{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Capability{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Grant(claims.Subject), nil
}

type contextKey struct{}

// WithCapability returns a copy of ctx carrying c.
func WithCapability(ctx context.Context, c Capability) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the capability stored in ctx, or the zero Capability.
func FromContext(ctx context.Context) Capability {
	c, _ := ctx.Value(contextKey{}).(Capability)
	return c
}

// Middleware verifies an optional "Authorization: Bearer" header and stores
// the resulting capability in the request context. Requests without a token
// pass through with no authority; the engine rejects them on mutation.
// A present but invalid token is rejected with 401.
func (s *Signer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		c, err := s.Verify(token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCapability(r.Context(), c)))
	})
}

func extractBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
