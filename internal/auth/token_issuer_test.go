package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "weatherdash-api",
		Audience:      "weatherdash",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesBackendTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), Principal{
		UserID:    "user-123",
		Email:     "ayse@example.com",
		Anonymous: false,
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" || claims.Email != "ayse@example.com" || claims.Anonymous {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "weatherdash-api" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "weatherdash" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config TokenIssuerConfig
		want   error
	}{
		{name: "missing-secret", config: TokenIssuerConfig{Issuer: "a", Audience: "b"}, want: ErrMissingSigningSecret},
		{name: "missing-issuer", config: TokenIssuerConfig{SigningSecret: []byte("s"), Audience: "b"}, want: ErrMissingIssuer},
		{name: "blank-audience", config: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: " "}, want: ErrMissingAudience},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewTokenIssuer(testCase.config)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}

	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: "b", TokenTTL: -time.Minute}); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, _, err := issuer.IssueToken(context.Background(), Principal{UserID: "anon-321", Anonymous: true})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	claims, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	principal := claims.Principal()
	if principal.UserID != "anon-321" || !principal.Anonymous {
		t.Fatalf("unexpected principal %+v", principal)
	}

	if _, err := issuer.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := issuer.ValidateToken(" "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	now := issuedAt
	issuer := newTestIssuer(t, func() time.Time { return now })

	tokenString, _, err := issuer.IssueToken(context.Background(), Principal{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	now = issuedAt.Add(31 * time.Minute)
	if _, err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	foreign, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "weatherdash-api",
		Audience:      "other-app",
		Clock:         func() time.Time { return issuedAt },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	foreignToken, _, err := foreign.IssueToken(context.Background(), Principal{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	now = issuedAt
	if _, err := issuer.ValidateToken(foreignToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch to be rejected, got %v", err)
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	if _, _, err := issuer.IssueToken(context.Background(), Principal{UserID: " "}); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("123"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password error, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := ComparePassword(hash, "correct horse"); err != nil {
		t.Fatalf("expected password to match: %v", err)
	}
	if err := ComparePassword(hash, "battery staple"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
