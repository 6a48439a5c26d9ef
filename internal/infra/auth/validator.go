package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/delegation-governance/internal/domain"
)

// Issuer — издатель токенов консоли.
const Issuer = "delegation-governance"

// BaseValidator содержит общую логику проверки RS256
type BaseValidator struct {
	publicKey *rsa.PublicKey
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{publicKey: pubKey}
}

// VerifyToken реализует интерфейс auth.TokenValidator.
// Принимает токен с префиксом "Bearer " или без него.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.ActorClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &domain.ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(Issuer))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*domain.ActorClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if claims.ActorID == "" {
		return nil, fmt.Errorf("token without actor_id")
	}

	return claims, nil
}

// AllowAll — валидатор для auth.disabled: любой запрос выполняется от имени заданного актора.
type AllowAll struct {
	Actor domain.Actor
}

func (a AllowAll) VerifyToken(string) (*domain.ActorClaims, error) {
	return &domain.ActorClaims{
		ActorID: a.Actor.ID,
		Name:    a.Actor.Name,
		Role:    a.Actor.Role,
		Scopes:  map[string]bool{"admin": true},
	}, nil
}

// IssueToken подписывает токен закрытым ключом (RS256). Используется govctl для выдачи токенов операторам.
func IssueToken(key *rsa.PrivateKey, actor domain.Actor, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	claims := &domain.ActorClaims{
		ActorID: actor.ID,
		Name:    actor.Name,
		Role:    actor.Role,
		Scopes:  set,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи (только для govctl)
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
