package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamegroup/internal/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestProvider(t *testing.T, clock *fakeClock) *SessionProvider {
	t.Helper()

	p, err := NewSessionProvider(SessionConfig{
		Secret: testSecret,
		TTL:    time.Hour,
		Issuer: "gamegroup-test",
		Now:    clock.Now,
	})
	require.NoError(t, err)

	return p
}

func TestNewSessionProvider_Validation(t *testing.T) {
	_, err := NewSessionProvider(SessionConfig{Secret: []byte("short"), TTL: time.Hour})
	assert.Error(t, err)

	_, err = NewSessionProvider(SessionConfig{Secret: testSecret})
	assert.Error(t, err)

	p, err := NewSessionProvider(SessionConfig{Secret: testSecret, TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, p.TTL())
}

func TestMintValidate_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := newTestProvider(t, clock)

	for _, role := range []models.Role{models.RoleViewer, models.RoleContributor} {
		credential, expiresAt, err := p.Mint("alice@example.com", role)
		require.NoError(t, err)
		assert.True(t, clock.Now().Add(time.Hour).Equal(expiresAt))

		clock.Advance(30 * time.Minute)

		identity, err := p.Validate(credential)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", identity.Subject)
		assert.Equal(t, role, identity.Role)
		assert.True(t, expiresAt.Equal(identity.ExpiresAt))
	}
}

func TestMint_RejectsInvalidInput(t *testing.T) {
	p := newTestProvider(t, &fakeClock{t: time.Now()})

	_, _, err := p.Mint("", models.RoleViewer)
	assert.Error(t, err)

	_, _, err = p.Mint("alice@example.com", models.RoleNone)
	assert.Error(t, err)

	_, _, err = p.Mint("alice@example.com", models.Role("admin"))
	assert.Error(t, err)
}

func flipSignatureBit(t *testing.T, credential string, bit int) string {
	t.Helper()

	parts := strings.Split(credential, ".")
	require.Len(t, parts, 3)

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[bit/8] ^= 1 << (bit % 8)
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)

	return strings.Join(parts, ".")
}

func TestValidate_TamperedSignature(t *testing.T) {
	p := newTestProvider(t, &fakeClock{t: time.Now()})

	credential, _, err := p.Mint("alice@example.com", models.RoleViewer)
	require.NoError(t, err)

	// HS256 signatures are 32 bytes.
	for _, bit := range []int{0, 7, 100, 255} {
		_, err := p.Validate(flipSignatureBit(t, credential, bit))
		assert.ErrorIs(t, err, ErrBadSignature, "bit %d", bit)
	}
}

func TestValidate_TamperedClaims(t *testing.T) {
	p := newTestProvider(t, &fakeClock{t: time.Now()})

	credential, _, err := p.Mint("bob@example.com", models.RoleViewer)
	require.NoError(t, err)

	parts := strings.Split(credential, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), `"viewer"`, `"contributor"`, 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = p.Validate(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestValidate_Expired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestProvider(t, clock)

	credential, _, err := p.Mint("alice@example.com", models.RoleContributor)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = p.Validate(credential)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidate_Malformed(t *testing.T) {
	p := newTestProvider(t, &fakeClock{t: time.Now()})

	for _, credential := range []string{"", "garbage", "a.b", "a.b.c", "!!!.???.***"} {
		_, err := p.Validate(credential)
		assert.ErrorIs(t, err, ErrMalformed, "credential %q", credential)
	}
}

func TestValidate_OtherSecret(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestProvider(t, clock)

	other, err := NewSessionProvider(SessionConfig{
		Secret: []byte("ffffffffffffffffffffffffffffffff"),
		TTL:    time.Hour,
		Issuer: "gamegroup-test",
		Now:    clock.Now,
	})
	require.NoError(t, err)

	credential, _, err := other.Mint("mallory@example.com", models.RoleContributor)
	require.NoError(t, err)

	_, err = p.Validate(credential)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestValidate_RejectsUnknownRole(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestProvider(t, clock)

	claims := &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			Issuer:    "gamegroup-test",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
		},
	}
	credential, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = p.Validate(credential)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestValidate_RequiresExpiry(t *testing.T) {
	p := newTestProvider(t, &fakeClock{t: time.Now()})

	claims := &Claims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "alice@example.com",
			Issuer:  "gamegroup-test",
		},
	}
	credential, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = p.Validate(credential)
	assert.ErrorIs(t, err, ErrMalformed)
}
