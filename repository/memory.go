package repository

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"finledger/models"
)

// MemoryUsers is a thread-safe in-memory UserRepository.
type MemoryUsers struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	emailIndex map[string]string
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:      make(map[string]*models.User),
		emailIndex: make(map[string]string),
	}
}

func (r *MemoryUsers) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := models.NormalizeEmail(user.Email)
	if _, exists := r.emailIndex[email]; exists {
		return ErrDuplicateEmail
	}
	cp := *user
	cp.Email = email
	r.users[cp.ID] = &cp
	r.emailIndex[email] = cp.ID
	return nil
}

func (r *MemoryUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.emailIndex[models.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.users[id]
	return &cp, nil
}

// Delete removes a user. It is not part of UserRepository; tests use it to
// simulate an account disappearing after a token was issued.
func (r *MemoryUsers) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		delete(r.emailIndex, u.Email)
		delete(r.users, id)
	}
}

// MemoryStatements is an in-memory StatementRepository. A single writer lock
// serialises transactions; writes are staged and applied only on success.
type MemoryStatements struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	rows []models.Statement
}

func NewMemoryStatements() *MemoryStatements {
	return &MemoryStatements{}
}

func (r *MemoryStatements) Create(ctx context.Context, statement *models.Statement) error {
	return r.WithinTx(ctx, nil, func(tx StatementRepository) error {
		return tx.Create(ctx, statement)
	})
}

func (r *MemoryStatements) FindByID(ctx context.Context, userID, statementID string) (*models.Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findStatement(r.rows, userID, statementID)
}

func (r *MemoryStatements) ListByUser(ctx context.Context, userID string) ([]models.Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterByUser(r.rows, userID), nil
}

func (r *MemoryStatements) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.SumBalance(filterByUser(r.rows, userID)), nil
}

func (r *MemoryStatements) WithinTx(ctx context.Context, lockUserIDs []string, fn func(StatementRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memoryStatementsTx{parent: r}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.rows = append(r.rows, tx.pending...)
	r.mu.Unlock()
	return nil
}

type memoryStatementsTx struct {
	parent  *MemoryStatements
	pending []models.Statement
}

func (tx *memoryStatementsTx) Create(ctx context.Context, statement *models.Statement) error {
	tx.pending = append(tx.pending, *statement)
	return nil
}

func (tx *memoryStatementsTx) FindByID(ctx context.Context, userID, statementID string) (*models.Statement, error) {
	return findStatement(tx.snapshot(), userID, statementID)
}

func (tx *memoryStatementsTx) ListByUser(ctx context.Context, userID string) ([]models.Statement, error) {
	return filterByUser(tx.snapshot(), userID), nil
}

func (tx *memoryStatementsTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return models.SumBalance(filterByUser(tx.snapshot(), userID)), nil
}

func (tx *memoryStatementsTx) WithinTx(ctx context.Context, lockUserIDs []string, fn func(StatementRepository) error) error {
	return fn(tx)
}

func (tx *memoryStatementsTx) snapshot() []models.Statement {
	tx.parent.mu.RLock()
	defer tx.parent.mu.RUnlock()
	out := make([]models.Statement, 0, len(tx.parent.rows)+len(tx.pending))
	out = append(out, tx.parent.rows...)
	return append(out, tx.pending...)
}

func findStatement(rows []models.Statement, userID, statementID string) (*models.Statement, error) {
	for _, s := range rows {
		if s.ID == statementID && s.UserID == userID {
			cp := s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func filterByUser(rows []models.Statement, userID string) []models.Statement {
	out := []models.Statement{}
	for _, s := range rows {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}
