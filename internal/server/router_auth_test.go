package server

import (
	contextpkg "context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/users/user-1/settings", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubBackendTokenManager{
			validateErr: fmt.Errorf("%w: %w", auth.ErrExpiredToken, jwt.ErrTokenExpired),
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/users/user-1/settings", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubBackendTokenManager{
			validateErr: errors.New("signature mismatch"),
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

type stubBackendTokenManager struct {
	validateErr error
	claims      auth.Claims
}

func (s stubBackendTokenManager) IssueToken(contextpkg.Context, auth.Principal) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubBackendTokenManager) ValidateToken(string) (auth.Claims, error) {
	return s.claims, s.validateErr
}

func TestAuthorizeRequestAcceptsQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/users/user-1/stream?access_token=stream-token", http.NoBody)

	claims := auth.Claims{Email: "ayse@example.com"}
	claims.Subject = "user-1"
	handler := &httpHandler{
		tokens: stubBackendTokenManager{claims: claims},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to be authorized, got %d", recorder.Code)
	}
	if ctx.GetString(userIDContextKey) != "user-1" {
		t.Fatalf("expected user id in context, got %q", ctx.GetString(userIDContextKey))
	}
	if principal := principalFromContext(ctx); principal.Email != "ayse@example.com" {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestAuthEndpoints(t *testing.T) {
	backend := newTestBackend(t)

	registered := backend.register(t, "ayse@example.com")

	duplicate := backend.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "AYSE@example.com", "password": "another-secret"})
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", duplicate.Code)
	}
	weak := backend.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "mehmet@example.com", "password": "123"})
	if weak.Code != http.StatusBadRequest || decodeBody(t, weak)["error"] != "weak_password" {
		t.Fatalf("expected weak_password, got %d %s", weak.Code, weak.Body.String())
	}
	invalidEmail := backend.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email", "password": "correct-horse"})
	if invalidEmail.Code != http.StatusBadRequest || decodeBody(t, invalidEmail)["error"] != "invalid_email" {
		t.Fatalf("expected invalid_email, got %d %s", invalidEmail.Code, invalidEmail.Body.String())
	}

	login := backend.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ayse@example.com", "password": "correct-horse"})
	if login.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d %s", login.Code, login.Body.String())
	}
	if signedIn := decodeAuth(t, login); signedIn.UserID != registered.UserID {
		t.Fatalf("expected same uid, got %s and %s", signedIn.UserID, registered.UserID)
	}

	wrong := backend.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ayse@example.com", "password": "wrong-horse"})
	if wrong.Code != http.StatusUnauthorized || decodeBody(t, wrong)["error"] != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", wrong.Code, wrong.Body.String())
	}

	claims, err := backend.issuer.ValidateToken(registered.Token)
	if err != nil {
		t.Fatalf("issued token did not validate: %v", err)
	}
	if claims.Email != "ayse@example.com" || claims.Anonymous {
		t.Fatalf("unexpected claims %+v", claims)
	}

	forged, _, err := backend.issuer.IssueToken(t.Context(), auth.Principal{UserID: "ghost"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if me := backend.do(t, http.MethodGet, "/auth/me", forged, nil); me.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown uid, got %d", me.Code)
	}
}
