package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// ActorClaims — claims токена консоли. Subject не используем: идентичность берём из actor_id.
type ActorClaims struct {
	ActorID string          `json:"actor_id"`
	Name    string          `json:"name"`
	Role    string          `json:"role"`             // bureau_chief, director, director_general, operator
	Scopes  map[string]bool `json:"scopes,omitempty"` // "governance.write": true
	jwt.RegisteredClaims
}

// Actor превращает claims в доменного актора.
func (c *ActorClaims) Actor() Actor {
	return Actor{ID: c.ActorID, Name: c.Name, Role: c.Role}
}

// Can проверяет scope. "admin" открывает всё.
func (c *ActorClaims) Can(scope string) bool {
	return c.Scopes["admin"] || c.Scopes[scope]
}
