package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"finledger/apperror"
	"finledger/models"
	"finledger/users"
)

type Session struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type Service struct {
	users  *users.Directory
	tokens *TokenService

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(directory *users.Directory, tokens *TokenService) *Service {
	return &Service{users: directory, tokens: tokens}
}

// Authenticate checks the credentials and issues a token. An unknown email and
// a wrong password fail with the same error and a similar amount of work.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrUserNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(s.placeholderHash(), []byte(password))
		return nil, apperror.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, apperror.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{User: user, Token: token}, nil
}

func (s *Service) Verify(token string) (string, error) {
	return s.tokens.Verify(token)
}

func (s *Service) placeholderHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("placeholder-password"), s.users.Cost())
	})
	return s.dummyHash
}
