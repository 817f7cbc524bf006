package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is who this client is according to its session token. The engine
// uses it to classify own vs. other messages and to suppress self-typing
// indicators.
type Identity struct {
	UserID      int
	Username    string
	DisplayName string
}

var ErrNoIdentity = errors.New("token carries no user identity")

// FromToken extracts the identity claims from the session JWT. The token is
// not verified here: the server is the authority and rejects bad tokens at
// connect time; the client only needs to read its own claims.
func FromToken(tokenString string) (Identity, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	id := Identity{}
	switch v := claims["user_id"].(type) {
	case float64:
		id.UserID = int(v)
	case string:
		// Some issuers stringify numeric ids.
		if _, err := fmt.Sscanf(v, "%d", &id.UserID); err != nil {
			return Identity{}, fmt.Errorf("%w: user_id %q", ErrNoIdentity, v)
		}
	default:
		return Identity{}, ErrNoIdentity
	}

	if name, ok := claims["username"].(string); ok {
		id.Username = name
	}
	if name, ok := claims["display_name"].(string); ok {
		id.DisplayName = name
	}
	return id, nil
}

// Name returns the best display name for the identity.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}
