package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAccess = "codesync-access"
	audienceShare  = "codesync-share"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims identify the principal behind an access token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ShareClaims grant read access to one project until they expire.
type ShareClaims struct {
	ProjectID string `json:"projectId"`
	jwt.RegisteredClaims
}

func IssueToken(secret []byte, userID, username string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	if err := parse(secret, token, audienceAccess, &claims); err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" || claims.Username == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func IssueShareToken(secret []byte, projectID string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := ShareClaims{
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audienceShare},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign share token: %w", err)
	}
	return signed, nil
}

func ParseShareToken(secret []byte, token string) (ShareClaims, error) {
	var claims ShareClaims
	if err := parse(secret, token, audienceShare, &claims); err != nil {
		return ShareClaims{}, err
	}
	if claims.ProjectID == "" {
		return ShareClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func parse(secret []byte, token, audience string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
