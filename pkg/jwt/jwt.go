package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	apperrors "support_chat/pkg/errors"
)

// Claims issued by the account service. Only access tokens reach the relay.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	gojwt.RegisteredClaims
}

// GenerateAccessToken signs an HS256 access token. Production tokens come from the
// account service; this is used by cmd/devtoken and tests.
func GenerateAccessToken(userID int64, email, issuer, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies an access token. An empty issuer skips the
// issuer check.
func ValidateToken(tokenString, secret, issuer string) (*Claims, error) {
	opts := []gojwt.ParserOption{gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, gojwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(tokenString, claims, func(t *gojwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}

	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", apperrors.ErrInvalidToken)
	}
	return claims, nil
}
