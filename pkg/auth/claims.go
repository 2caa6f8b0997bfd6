package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

// Identity is the authenticated actor the core trusts for posting
// attribution and role gates. Token issuance happens outside this service;
// we only consume tokens minted against the shared secret.
type Identity struct {
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Role     enums.Role `json:"role"`
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Role     enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts claims into the actor identity handed to services.
func (c *AccessTokenClaims) Identity() Identity {
	return Identity{
		UserID:   c.UserID,
		Username: c.Username,
		Role:     c.Role,
	}
}
