package auth

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"

	"finledger/apperror"
)

type Claims struct {
	jwt.StandardClaims
}

// TokenService issues and verifies HS256 bearer tokens whose subject is the
// user id.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TokenService) Issue(userID string) (string, error) {
	issuedAt := s.now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			IssuedAt:  issuedAt.Unix(),
			ExpiresAt: issuedAt.Add(s.ttl).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify returns the subject of a valid token. Any signature, algorithm or
// expiry failure is reported as apperror.ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", apperror.ErrInvalidToken
	}
	return claims.Subject, nil
}
