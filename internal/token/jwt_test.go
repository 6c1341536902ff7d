package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikoai/niko/internal/clock"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *clock.Fixed) {
	t.Helper()
	c := clock.NewFixed(epoch)
	return NewService("test-secret-key", ttl, WithClock(c)), c
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	issued, err := svc.Issue("alice")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, epoch, issued.IssuedAt)
	assert.Equal(t, epoch.Add(time.Hour), issued.ExpiresAt)

	subject, err := svc.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestVerifyExpiry(t *testing.T) {
	// Issued at t0 with a one hour lifetime: valid at t0+59m, invalid at t0+61m.
	svc, c := newTestService(t, time.Hour)

	issued, err := svc.Issue("alice")
	require.NoError(t, err)

	c.Advance(59 * time.Minute)
	subject, err := svc.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	c.Advance(2 * time.Minute)
	_, err = svc.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	svc, c := newTestService(t, time.Hour)
	other := NewService("another-secret", time.Hour, WithClock(c))

	issued, err := other.Issue("alice")
	require.NoError(t, err)

	_, err = svc.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestVerifyTamperedPayload(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	issued, err := svc.Issue("alice")
	require.NoError(t, err)

	parts := strings.Split(issued.Token, ".")
	require.Len(t, parts, 3)
	forged, err := NewService("attacker", time.Hour).Issue("root")
	require.NoError(t, err)
	parts[1] = strings.Split(forged.Token, ".")[1]

	_, err = svc.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyMalformedInputs(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	inputs := []string{
		"",
		"garbage",
		"a.b",
		"a.b.c",
		"...",
		"eyJhbGciOiJIUzI1NiJ9.!!!.sig",
		strings.Repeat("x", 4096),
		"\x00\xff\xfe",
	}
	for _, raw := range inputs {
		subject, err := svc.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalid, "input=%q", raw)
		assert.Empty(t, subject)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(none)
	assert.ErrorIs(t, err, ErrInvalid)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)
	_, err = svc.Verify(hs512)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRequiresExpiryAndSubject(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	key := []byte("test-secret-key")

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString(key)
	require.NoError(t, err)
	_, err = svc.Verify(noExp)
	assert.ErrorIs(t, err, ErrInvalid)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}).SignedString(key)
	require.NoError(t, err)
	_, err = svc.Verify(noSub)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestIssueRequiresSubjectAndSecret(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	_, err := svc.Issue("")
	assert.Error(t, err)

	_, err = NewService("", time.Hour).Issue("alice")
	assert.Error(t, err)
}

func TestNewServiceDefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewService("k", 0).TTL())
	assert.Equal(t, time.Minute, NewService("k", time.Minute).TTL())
}
