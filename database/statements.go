package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"finledger/models"
	"finledger/repository"
)

const statementColumns = "id, user_id, sender_id, type, amount, description, created_at, updated_at"

// StatementStore is the MySQL-backed repository.StatementRepository. A store
// returned by WithinTx is bound to that transaction (db is nil).
type StatementStore struct {
	db *sql.DB
	q  querier
}

func NewStatementStore(db *sql.DB) *StatementStore {
	return &StatementStore{db: db, q: db}
}

func (s *StatementStore) Create(ctx context.Context, st *models.Statement) error {
	var senderID sql.NullString
	if st.SenderID != nil {
		senderID = sql.NullString{String: *st.SenderID, Valid: true}
	}
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO statements (id, user_id, sender_id, type, amount, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		st.ID, st.UserID, senderID, string(st.Type), st.Amount.StringFixed(2), st.Description, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert %s statement: %w", st.Type, err)
	}
	return nil
}

func (s *StatementStore) FindByID(ctx context.Context, userID, statementID string) (*models.Statement, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE id = ? AND user_id = ?", statementID, userID)
	st, err := scanStatement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select statement: %w", err)
	}
	return st, nil
}

func (s *StatementStore) ListByUser(ctx context.Context, userID string) ([]models.Statement, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE user_id = ? ORDER BY seq", userID)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()

	statements := []models.Statement{}
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		statements = append(statements, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	return statements, nil
}

func (s *StatementStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'withdraw' THEN -amount ELSE amount END), 0)
		FROM statements WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum balance: %w", err)
	}
	return balance, nil
}

// WithinTx locks the users rows of lockUserIDs (in sorted order, so two
// transfers in opposite directions cannot deadlock) and runs fn inside the
// same transaction. InnoDB's default REPEATABLE READ plus the row locks keeps
// the balance read and the inserts consistent.
func (s *StatementStore) WithinTx(ctx context.Context, lockUserIDs []string, fn func(repository.StatementRepository) error) error {
	if s.db == nil {
		if err := lockUsers(ctx, s.q, lockUserIDs); err != nil {
			return err
		}
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockUsers(ctx, tx, lockUserIDs); err != nil {
		return err
	}
	if err := fn(&StatementStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func lockUsers(ctx context.Context, q querier, userIDs []string) error {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		var locked string
		err := q.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ? FOR UPDATE", id).Scan(&locked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock user %s: %w", id, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*models.Statement, error) {
	var (
		st       models.Statement
		senderID sql.NullString
		typ      string
	)
	if err := row.Scan(&st.ID, &st.UserID, &senderID, &typ, &st.Amount, &st.Description, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Type = models.OperationType(typ)
	if senderID.Valid {
		id := senderID.String
		st.SenderID = &id
	}
	return &st, nil
}
