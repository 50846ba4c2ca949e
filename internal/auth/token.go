package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

var ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)

const addressClaim = "address"

// TokenIssuer signs and verifies HS256 bearer tokens carrying a wallet address
type TokenIssuer struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

func NewTokenIssuer(secret string, expiresIn time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	if expiresIn <= 0 {
		return nil, fmt.Errorf("jwt lifetime must be positive")
	}
	return &TokenIssuer{secret: []byte(secret), expiresIn: expiresIn, now: time.Now}, nil
}

func (i *TokenIssuer) Issue(walletAddress string) (string, time.Time, error) {
	expireAt := i.now().Add(i.expiresIn)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		addressClaim: strings.ToLower(walletAddress),
		"exp":        expireAt.Unix(),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("unable to sign token: %w", err)
	}
	return signed, expireAt, nil
}

// Parse validates a token and returns the wallet address it carries
func (i *TokenIssuer) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if _, hasExp := claims["exp"]; !hasExp {
		return "", fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	address, ok := claims[addressClaim].(string)
	if !ok || address == "" {
		return "", fmt.Errorf("%w: missing address", ErrInvalidToken)
	}
	return address, nil
}
