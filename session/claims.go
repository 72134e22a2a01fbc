package session

import (
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrNoAccessToken is returned when no access token is stored.
var ErrNoAccessToken = errors.New("no access token stored")

// UnverifiedSubject extracts the user identifier ("sub", falling back to
// "userId") from an access token's payload WITHOUT checking its signature.
// A tampered token yields whatever identifier it claims; use the result for
// display and local filtering only, never for an authorization decision.
func UnverifiedSubject(accessToken string) (string, error) {
	if accessToken == "" {
		return "", ErrNoAccessToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("failed to decode access token: %w", err)
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch v := claims["userId"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}

	return "", errors.New("access token carries no user identifier")
}
