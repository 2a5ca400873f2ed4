// Package authvalidator decides whether an agent's bearer token is
// acceptable and which agent_id it resolves to. The protocol does not
// dictate the backing store (see DESIGN.md's Open Question decision);
// this package ships a static-map implementation and a JWT-claims
// implementation, both satisfying the same interface so a
// database-backed validator can be dropped in later without touching
// the relay core.
package authvalidator

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Validate when the token is absent,
// malformed, or not recognized.
var ErrInvalidToken = errors.New("authvalidator: invalid token")

// Validator resolves a bearer token to the agent_id it authenticates,
// or fails.
type Validator interface {
	Validate(token string) (agentID string, err error)
}

// StaticTokenValidator is the default implementation: a fixed map of
// token to agent_id, loaded from the AUTH_TOKENS configuration value.
type StaticTokenValidator struct {
	tokens map[string]string
}

func NewStaticTokenValidator(tokens map[string]string) *StaticTokenValidator {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticTokenValidator{tokens: copied}
}

func (v *StaticTokenValidator) Validate(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	agentID, ok := v.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return agentID, nil
}

// agentClaims is the JWT claims shape the JWTValidator expects: an
// agent_id and the registered expiry/issued-at claims.
type agentClaims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// JWTValidator validates tokens signed with a shared HMAC secret and
// extracts the agent_id claim, mirroring the way the corpus's relay
// validates end-user tunnel tokens.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(token string) (string, error) {
	claims := &agentClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.AgentID == "" {
		return "", ErrInvalidToken
	}
	return claims.AgentID, nil
}
