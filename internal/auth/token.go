// Package auth issues and verifies the HS512 access tokens carried on the
// handshake header.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetimes.
const (
	AccessTokenTTL  = 2 * 24 * time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("token is invalid")
	ErrExpiredToken = errors.New("token is expired")
)

// Checker verifies the token attached to a request before the connection
// is admitted. A nil Checker admits everyone; an absent token is passed
// through as an empty string, not treated as a hard failure.
type Checker interface {
	CheckAndVerify(ctx context.Context, token, reqPath string) (*AccessToken, error)
}

// AccessToken is the claim set encoded into issued tokens.
type AccessToken struct {
	UserID      uint64 `json:"user_id"`
	UserName    string `json:"user_name"`
	UserAccount string `json:"user_account"`
	AppID       string `json:"app_id"`
	jwt.RegisteredClaims
}

// Expired reports whether the token's deadline has passed.
func (t *AccessToken) Expired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.Before(time.Now())
}

// Encode signs the claims with HS512.
func Encode(userID uint64, userAccount, userName, appID string, ttl time.Duration, secret string) (string, error) {
	claims := AccessToken{
		UserID:      userID,
		UserName:    userName,
		UserAccount: userAccount,
		AppID:       appID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return signed, nil
}

// NewAccessToken issues a short-lived access token.
func NewAccessToken(userID uint64, userAccount, userName, appID, secret string) (string, error) {
	return Encode(userID, userAccount, userName, appID, AccessTokenTTL, secret)
}

// NewRefreshToken issues a longer-lived refresh token with the same
// claims.
func NewRefreshToken(userID uint64, userAccount, userName, appID, secret string) (string, error) {
	return Encode(userID, userAccount, userName, appID, RefreshTokenTTL, secret)
}

// Decode verifies signature and expiry and returns the claims.
func Decode(token, secret string) (*AccessToken, error) {
	claims := &AccessToken{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SecretChecker is the default Checker: it verifies signature and expiry
// against one shared secret and ignores the request path.
type SecretChecker struct {
	Secret string
}

func (c *SecretChecker) CheckAndVerify(_ context.Context, token, _ string) (*AccessToken, error) {
	return Decode(token, c.Secret)
}
