// Package statements implements the statement ledger: balance derivation,
// statement lookup and the deposit, withdraw and transfer operations together
// with the non-negative balance rule they enforce.
package statements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/apperror"
	"finledger/models"
	"finledger/repository"
	"finledger/users"
)

type Ledger struct {
	users      *users.Directory
	statements repository.StatementRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewLedger(directory *users.Directory, statements repository.StatementRepository, logger *slog.Logger) *Ledger {
	return &Ledger{users: directory, statements: statements, logger: logger, now: time.Now}
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Sent     models.Statement `json:"sent"`
	Received models.Statement `json:"received"`
}

func (l *Ledger) GetBalance(ctx context.Context, userID string, includeStatements bool) (*models.Balance, error) {
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}

	if !includeStatements {
		balance, err := l.statements.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("balance for %s: %w", userID, err)
		}
		return &models.Balance{Balance: balance}, nil
	}

	list, err := l.statements.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("statements for %s: %w", userID, err)
	}
	return &models.Balance{Balance: models.SumBalance(list), Statements: list}, nil
}

func (l *Ledger) GetStatement(ctx context.Context, userID, statementID string) (*models.Statement, error) {
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}

	st, err := l.statements.FindByID(ctx, userID, statementID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrStatementNotFound
		}
		return nil, fmt.Errorf("statement %s: %w", statementID, err)
	}
	return st, nil
}

// History returns the user's statements created within [from, to]; a nil
// bound is open.
func (l *Ledger) History(ctx context.Context, userID string, from, to *time.Time) ([]models.Statement, error) {
	balance, err := l.GetBalance(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	out := []models.Statement{}
	for _, st := range balance.Statements {
		if from != nil && st.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && st.CreatedAt.After(*to) {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// Record validates and appends a single statement.
func (l *Ledger) Record(ctx context.Context, userID string, typ models.OperationType, amount decimal.Decimal, description string, senderID *string) (*models.Statement, error) {
	return l.record(ctx, l.statements, userID, typ, amount, description, senderID)
}

func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal, description string) (*models.Statement, error) {
	if err := ValidateOperation(amount, description); err != nil {
		return nil, err
	}
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}

	st, err := l.Record(ctx, userID, models.Deposit, amount, description, nil)
	if err != nil {
		return nil, err
	}
	l.logger.Info("deposit recorded", "user_id", userID, "statement_id", st.ID, "amount", st.Amount.String())
	return st, nil
}

func (l *Ledger) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, description string) (*models.Statement, error) {
	if err := ValidateOperation(amount, description); err != nil {
		return nil, err
	}
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}

	var st *models.Statement
	err := l.statements.WithinTx(ctx, []string{userID}, func(tx repository.StatementRepository) error {
		if err := ensureFunds(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		st, err = l.record(ctx, tx, userID, models.Withdraw, amount, description, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrInsufficientFunds) {
			l.logger.Warn("withdraw rejected", "user_id", userID, "amount", amount.String(), "reason", err.Error())
		}
		return nil, err
	}
	l.logger.Info("withdraw recorded", "user_id", userID, "statement_id", st.ID, "amount", st.Amount.String())
	return st, nil
}

// Transfer moves amount from sender to receiver. Both legs are written in one
// transaction: a transfer credit owned by the receiver and a withdraw debit
// owned by the sender.
func (l *Ledger) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal, description string) (*TransferResult, error) {
	if err := ValidateOperation(amount, description); err != nil {
		return nil, err
	}
	if _, err := l.users.FindByID(ctx, receiverID); err != nil {
		return nil, err
	}
	if _, err := l.users.FindByID(ctx, senderID); err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			return nil, apperror.ErrSenderNotFound
		}
		return nil, err
	}
	if senderID == receiverID {
		return nil, apperror.ErrSelfTransfer
	}

	var result TransferResult
	err := l.statements.WithinTx(ctx, []string{senderID, receiverID}, func(tx repository.StatementRepository) error {
		if err := ensureFunds(ctx, tx, senderID, amount); err != nil {
			return err
		}
		received, err := l.record(ctx, tx, receiverID, models.Transfer, amount, description, &senderID)
		if err != nil {
			return err
		}
		sent, err := l.record(ctx, tx, senderID, models.Withdraw, amount, description, nil)
		if err != nil {
			return err
		}
		result = TransferResult{Sent: *sent, Received: *received}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrInsufficientFunds) {
			l.logger.Warn("transfer rejected", "sender_id", senderID, "receiver_id", receiverID, "amount", amount.String())
		}
		return nil, err
	}
	l.logger.Info("transfer recorded", "sender_id", senderID, "receiver_id", receiverID, "amount", amount.String())
	return &result, nil
}

func (l *Ledger) record(ctx context.Context, repo repository.StatementRepository, userID string, typ models.OperationType, amount decimal.Decimal, description string, senderID *string) (*models.Statement, error) {
	if err := ValidateOperation(amount, description); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, apperror.Validationf("Invalid statement type %q", typ)
	}
	if typ == models.Transfer && senderID == nil {
		return nil, apperror.Validationf("Transfer statements require a sender")
	}

	now := l.now().UTC()
	st := &models.Statement{
		ID:          uuid.NewString(),
		UserID:      userID,
		SenderID:    senderID,
		Type:        typ,
		Amount:      amount.Round(2),
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("record %s statement: %w", typ, err)
	}
	return st, nil
}

func ensureFunds(ctx context.Context, repo repository.StatementRepository, userID string, amount decimal.Decimal) error {
	balance, err := repo.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("balance for %s: %w", userID, err)
	}
	if balance.LessThan(amount) {
		return apperror.ErrInsufficientFunds
	}
	return nil
}

const (
	// Limits of the statements.amount DECIMAL(12,2) and description
	// VARCHAR(255) columns.
	maxAmountIntegerDigits = 10
	maxDescriptionLength   = 255

	// Exponent window checked before any arithmetic. Round, Cmp and friends
	// rescale to the exponent, so values like 1e100000000 never reach them.
	minAmountExponent = -20
	maxAmountExponent = maxAmountIntegerDigits
)

var maxAmount = decimal.New(999999999999, -2)

// ValidateAmount accepts strictly positive amounts with at most two decimal
// places, up to 9999999999.99.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperror.ErrInvalidAmount
	}
	exp := amount.Exponent()
	if exp > maxAmountExponent {
		return apperror.ErrAmountTooLarge
	}
	if exp < minAmountExponent {
		return apperror.ErrInvalidAmount
	}
	if amount.NumDigits()+int(exp) > maxAmountIntegerDigits {
		return apperror.ErrAmountTooLarge
	}
	if !amount.Equal(amount.Round(2)) {
		return apperror.ErrInvalidAmount
	}
	if amount.GreaterThan(maxAmount) {
		return apperror.ErrAmountTooLarge
	}
	return nil
}

// ValidateOperation checks the client-supplied part of a deposit, withdraw or
// transfer.
func ValidateOperation(amount decimal.Decimal, description string) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if utf8.RuneCountInString(strings.TrimSpace(description)) > maxDescriptionLength {
		return apperror.ErrDescriptionTooLong
	}
	return nil
}
