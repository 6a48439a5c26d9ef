package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"go.uber.org/zap"
)

// Scopes консоли
const (
	ScopeRead  = "governance.read"
	ScopeWrite = "governance.write"
)

// TokenValidator — интерфейс проверки токена консоли
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.ActorClaims, error)
}

type ctxKey struct{}

// NewMiddleware проверяет токен и кладёт claims в контекст запроса.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.VerifyToken(r.Header.Get("Authorization"))
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireScope отсекает запросы без нужного scope. Ставится после NewMiddleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok || !claims.Can(scope) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, c *domain.ActorClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFrom(ctx context.Context) (*domain.ActorClaims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*domain.ActorClaims)
	return c, ok && c != nil
}

// ActorFrom — актор запроса; без claims возвращает пустого актора.
func ActorFrom(ctx context.Context) domain.Actor {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.Actor()
	}
	return domain.Actor{}
}
