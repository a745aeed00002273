// Package ticket verifies join tickets: short-lived HMAC-signed tokens an
// external issuer hands to clients to prove their identity and the
// workspace they may enter.
package ticket

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the required aud claim of every join ticket.
const Audience = "colab-backend"

// maxIDLength bounds user and workspace ids.
const maxIDLength = 128

// Closed set of admission rejection reasons. The dispatcher surfaces the
// message verbatim and closes the connection with code 4003.
var (
	ErrMissingToken      = errors.New("missing join ticket")
	ErrInvalidToken      = errors.New("invalid join ticket")
	ErrExpiredToken      = errors.New("join ticket expired")
	ErrWorkspaceMismatch = errors.New("join ticket workspace mismatch")
	ErrUserMismatch      = errors.New("join ticket user mismatch")
	ErrReplay            = errors.New("join ticket already used")
)

// Claims are the verified contents of a join ticket.
type Claims struct {
	WorkspaceID string `json:"workspaceId"`
	Username    string `json:"username,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// validate checks the claim shape beyond signature and expiry.
func (c *Claims) validate() error {
	sub := c.Subject
	if sub == "" || len(sub) > maxIDLength {
		return ErrInvalidToken
	}
	if c.WorkspaceID == "" || len(c.WorkspaceID) > maxIDLength {
		return ErrInvalidToken
	}
	if c.ID == "" {
		return ErrInvalidToken
	}
	if c.ExpiresAt == nil {
		return ErrExpiredToken
	}
	return nil
}
