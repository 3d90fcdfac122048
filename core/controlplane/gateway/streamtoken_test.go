package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStreamTokenRoundTrip(t *testing.T) {
	issuer, err := NewStreamTokenIssuer("secret-a", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	token, err := issuer.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Verify(token, "job-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.JobID != "job-1" || claims.UserID != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestStreamTokenJobMismatch(t *testing.T) {
	issuer, _ := NewStreamTokenIssuer("secret-a", time.Hour)
	token, err := issuer.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(token, "job-2"); !errors.Is(err, ErrTokenJobMismatch) {
		t.Fatalf("expected job mismatch, got %v", err)
	}
}

func TestStreamTokenWrongSecret(t *testing.T) {
	a, _ := NewStreamTokenIssuer("secret-a", time.Hour)
	b, _ := NewStreamTokenIssuer("secret-b", time.Hour)
	token, err := a.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token, "job-1"); err == nil {
		t.Fatal("token signed with another secret must not verify")
	}
}

func TestStreamTokenExpired(t *testing.T) {
	issuer, _ := NewStreamTokenIssuer("secret-a", time.Hour)
	now := time.Now().Add(-2 * time.Hour)
	claims := StreamClaims{
		JobID:  "job-1",
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret-a"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.Verify(signed, "job-1"); err == nil {
		t.Fatal("expired token must not verify")
	}
}

func TestStreamTokenRejectsOtherAlgorithms(t *testing.T) {
	issuer, _ := NewStreamTokenIssuer("secret-a", time.Hour)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, StreamClaims{JobID: "job-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.Verify(unsigned, "job-1"); err == nil {
		t.Fatal("alg=none token must not verify")
	}
}

func TestIdentityVerifier(t *testing.T) {
	v, err := NewHS256Verifier("id-secret")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("id-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "user-42" {
		t.Fatalf("sub = %q", sub)
	}

	missing, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("id-secret"))
	if _, err := v.Verify(missing); err == nil {
		t.Fatal("token without subject must not verify")
	}
	if _, err := v.Verify("garbage"); err == nil {
		t.Fatal("malformed token must not verify")
	}
}
