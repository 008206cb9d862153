package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"

	"gamegroup/internal/models"
)

const minSecretLen = 32

var (
	ErrMalformed    = errors.New("malformed session token")
	ErrBadSignature = errors.New("session token signature mismatch")
	ErrExpired      = errors.New("session token expired")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what a valid session token asserts.
type Identity struct {
	Subject   string
	Role      models.Role
	ExpiresAt time.Time
}

type SessionConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Now defaults to time.Now.
	Now func() time.Time
}

// SessionProvider mints and validates HS256 session tokens. It owns the
// signing secret; nothing else in the process sees it.
type SessionProvider struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewSessionProvider(cfg SessionConfig) (*SessionProvider, error) {
	const op = "auth.NewSessionProvider"

	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("%s: secret must be at least %d bytes", op, minSecretLen)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%s: ttl must be positive", op)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &SessionProvider{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    cfg.Now,
	}, nil
}

func (p *SessionProvider) TTL() time.Duration {
	return p.ttl
}

// Mint signs a session token for subject with the given role.
func (p *SessionProvider) Mint(subject string, role models.Role) (string, time.Time, error) {
	const op = "auth.Mint"

	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty subject", op)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%s: invalid role %q", op, role)
	}

	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	now := p.now()
	expirationTime := now.Add(p.ttl)
	claims := &Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   subject,
			Issuer:    p.issuer,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	// NumericDate has second precision; report what the token carries.
	return signed, claims.ExpiresAt.Time, nil
}

// Validate checks integrity and expiry and returns the embedded identity.
// Errors are ErrMalformed, ErrBadSignature or ErrExpired.
func (p *SessionProvider) Validate(credential string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Identity{}, ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrExpired
	default:
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	role, err := models.ParseRole(claims.Role)
	if err != nil || claims.Subject == "" {
		return Identity{}, ErrMalformed
	}

	return Identity{
		Subject:   claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
