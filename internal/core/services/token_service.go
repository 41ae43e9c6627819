package services

import (
	"errors"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims carried by voicemesh access tokens. DisplayName rides along so the
// relay can populate rosters without a user-store lookup.
type Claims struct {
	UserID      domain.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService implements the authentication collaborator with HMAC JWTs.
func NewTokenService(secret string, ttl time.Duration) ports.TokenService {
	return &tokenService{secret: []byte(secret), ttl: ttl}
}

func (s *tokenService) Issue(identity domain.Identity) (string, error) {
	claims := &Claims{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) Verify(tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrExpiredToken
		}
		return domain.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return domain.Identity{}, ErrInvalidToken
	}

	return domain.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
}
