// Package auth reads the claims a client needs from a user token.
//
// The client never holds the signing secret, so tokens are parsed without
// verification. The server remains the authority on validity; this package
// only lets the client fail fast on a token that is already expired.
package auth

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

const opParseToken = errors.Operation("parse_token")

// UserToken holds the claims read from a token.
type UserToken struct {
	Raw       string
	UserID    string
	ExpiresAt time.Time // zero when the token never expires
}

// Expired reports whether the token is past its expiry at now.
func (t UserToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// ParseUserToken parses raw without verifying its signature and returns its
// user_id and exp claims. A missing user_id or an expired token is an error.
func ParseUserToken(raw string) (UserToken, error) {
	return parseAt(raw, time.Now())
}

func parseAt(raw string, now time.Time) (UserToken, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, gojwt.MapClaims{})
	if err != nil {
		return UserToken{}, invalid(fmt.Errorf("malformed token: %w", err))
	}
	claims := token.Claims.(gojwt.MapClaims)

	ut := UserToken{Raw: raw}
	if userID, ok := claims["user_id"].(string); ok {
		ut.UserID = userID
	}
	if ut.UserID == "" {
		return UserToken{}, invalid(fmt.Errorf("token has no user_id claim"))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return UserToken{}, invalid(fmt.Errorf("bad exp claim: %w", err))
	}
	if exp != nil {
		ut.ExpiresAt = exp.Time
	}
	if ut.Expired(now) {
		return UserToken{}, invalid(fmt.Errorf("token for %s expired at %s", ut.UserID, ut.ExpiresAt.Format(time.RFC3339)))
	}
	return ut, nil
}

func invalid(err error) error {
	return errors.E(opParseToken, errors.Component("auth"), errors.KindInvalid, errors.ErrCodeValidationFailure, err)
}
