package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestVerifyIssuedToken(t *testing.T) {
	key := newKey(t)
	actor := domain.Actor{ID: "u-42", Name: "Alice", Role: "director"}
	token, err := IssueToken(key, actor, []string{ScopeRead}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	v := NewBaseValidator(&key.PublicKey)
	claims, err := v.VerifyToken("Bearer " + token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Actor() != actor {
		t.Fatalf("actor = %+v", claims.Actor())
	}
	if !claims.Can(ScopeRead) || claims.Can(ScopeWrite) {
		t.Fatalf("unexpected scopes %v", claims.Scopes)
	}

	other := NewBaseValidator(&newKey(t).PublicKey)
	if _, err := other.VerifyToken(token); err == nil {
		t.Fatal("token signed by another key must be rejected")
	}
	expired, _ := IssueToken(key, actor, nil, -time.Minute)
	if _, err := v.VerifyToken(expired); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestMiddlewareAndScopes(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)

	var seen domain.Actor
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewMiddleware(v, zap.NewNop())(RequireScope(ScopeWrite)(final))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/approvals", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	reader, _ := IssueToken(key, domain.Actor{ID: "r"}, []string{ScopeRead}, time.Hour)
	if code := call(reader); code != http.StatusForbidden {
		t.Fatalf("read-only token: %d", code)
	}
	admin, _ := IssueToken(key, domain.Actor{ID: "root", Role: "operator"}, []string{"admin"}, time.Hour)
	if code := call(admin); code != http.StatusNoContent {
		t.Fatalf("admin token: %d", code)
	}
	if seen.ID != "root" || seen.Role != "operator" {
		t.Fatalf("actor not propagated: %+v", seen)
	}
}

func TestAllowAll(t *testing.T) {
	claims, err := AllowAll{Actor: domain.Actor{ID: "dev"}}.VerifyToken("")
	if err != nil || claims.ActorID != "dev" || !claims.Can(ScopeWrite) {
		t.Fatalf("unexpected claims %+v, %v", claims, err)
	}
}
