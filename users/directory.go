// Package users is the user directory: account creation with a bcrypt
// password hash and lookup by id or email.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"finledger/apperror"
	"finledger/models"
	"finledger/repository"
)

type Directory struct {
	repo repository.UserRepository
	cost int
	now  func() time.Time
}

func NewDirectory(repo repository.UserRepository, bcryptCost int) *Directory {
	return &Directory{repo: repo, cost: bcryptCost, now: time.Now}
}

// Cost is the bcrypt cost new passwords are hashed with.
func (d *Directory) Cost() int {
	return d.cost
}

func (d *Directory) Create(ctx context.Context, name, email, password string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = models.NormalizeEmail(email)
	switch {
	case name == "":
		return nil, apperror.Validationf("Name is required")
	case email == "":
		return nil, apperror.Validationf("Email is required")
	case password == "":
		return nil, apperror.Validationf("Password is required")
	}

	if _, err := d.repo.FindByEmail(ctx, email); err == nil {
		return nil, apperror.ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := d.now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Password:  string(hashedPassword),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.repo.Create(ctx, user); err != nil {
		// lost a race against a concurrent signup with the same email
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperror.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, err := d.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return user, nil
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := d.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}
