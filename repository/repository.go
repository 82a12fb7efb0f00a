// Package repository defines the storage contracts for users and statements,
// plus in-memory implementations used by tests and the memory storage mode.
package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"finledger/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type UserRepository interface {
	// Create fails with ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type StatementRepository interface {
	Create(ctx context.Context, statement *models.Statement) error
	// FindByID only returns statements owned by userID.
	FindByID(ctx context.Context, userID, statementID string) (*models.Statement, error)
	// ListByUser returns statements in creation order.
	ListByUser(ctx context.Context, userID string) ([]models.Statement, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)

	// WithinTx runs fn against a repository bound to one transaction in which
	// the ledgers of lockUserIDs cannot change underneath it. Writes made by
	// fn are discarded when it returns an error.
	WithinTx(ctx context.Context, lockUserIDs []string, fn func(StatementRepository) error) error
}
