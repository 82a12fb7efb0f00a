package statements

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"finledger/apperror"
	"finledger/logging"
	"finledger/models"
	"finledger/repository"
	"finledger/users"
)

type fixture struct {
	ledger     *Ledger
	directory  *users.Directory
	users      *repository.MemoryUsers
	statements *repository.MemoryStatements
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userRepo := repository.NewMemoryUsers()
	statementRepo := repository.NewMemoryStatements()
	directory := users.NewDirectory(userRepo, bcrypt.MinCost)
	return &fixture{
		ledger:     NewLedger(directory, statementRepo, logging.Discard()),
		directory:  directory,
		users:      userRepo,
		statements: statementRepo,
	}
}

func (f *fixture) user(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := f.directory.Create(context.Background(), "User Test", email, "1234")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// assertBalance checks both the derived balance and that it equals the sum of
// the listed statements.
func assertBalance(t *testing.T, l *Ledger, userID, want string) {
	t.Helper()
	b, err := l.GetBalance(context.Background(), userID, true)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !b.Balance.Equal(amount(want)) {
		t.Fatalf("balance=%s want %s", b.Balance, want)
	}
	if sum := models.SumBalance(b.Statements); !sum.Equal(b.Balance) {
		t.Fatalf("balance %s differs from statement sum %s", b.Balance, sum)
	}
	bare, err := l.GetBalance(context.Background(), userID, false)
	if err != nil {
		t.Fatalf("GetBalance without statements: %v", err)
	}
	if !bare.Balance.Equal(b.Balance) || bare.Statements != nil {
		t.Fatalf("balance-only query mismatch: %+v", bare)
	}
}

func TestGetBalanceListsStatementsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "user.test@email.com")

	if _, err := f.ledger.Deposit(ctx, u.ID, amount("10"), "first deposit"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Deposit(ctx, u.ID, amount("20"), "second deposit"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Withdraw(ctx, u.ID, amount("15"), "first withdraw"); err != nil {
		t.Fatal(err)
	}

	b, err := f.ledger.GetBalance(ctx, u.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Statements) != 3 {
		t.Fatalf("statements=%d want 3", len(b.Statements))
	}
	if b.Statements[0].Description != "first deposit" || b.Statements[2].Type != models.Withdraw {
		t.Fatalf("unexpected order: %+v", b.Statements)
	}
	assertBalance(t, f.ledger, u.ID, "15")
}

func TestGetBalanceForNewUserIsEmpty(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "user.test@email.com")

	b, err := f.ledger.GetBalance(context.Background(), u.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Balance.IsZero() || b.Statements == nil || len(b.Statements) != 0 {
		t.Fatalf("want zero balance and empty list, got %+v", b)
	}
}

func TestUnknownUserIsRejectedEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.GetBalance(ctx, "nonexistentUserId", true); !errors.Is(err, apperror.ErrUserNotFound) {
		t.Errorf("GetBalance: %v", err)
	}
	if _, err := f.ledger.GetStatement(ctx, "nonexistentUserId", "s1"); !errors.Is(err, apperror.ErrUserNotFound) {
		t.Errorf("GetStatement: %v", err)
	}
	if _, err := f.ledger.Deposit(ctx, "nonexistentUserId", amount("10"), ""); !errors.Is(err, apperror.ErrUserNotFound) {
		t.Errorf("Deposit: %v", err)
	}
	if _, err := f.ledger.Withdraw(ctx, "nonexistentUserId", amount("10"), ""); !errors.Is(err, apperror.ErrUserNotFound) {
		t.Errorf("Withdraw: %v", err)
	}
}

func TestDepositThenWithdrawToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "user.test@email.com")

	dep, err := f.ledger.Deposit(ctx, u.ID, amount("10"), "first deposit statement")
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if dep.Type != models.Deposit || dep.ID == "" || dep.CreatedAt.IsZero() || !dep.Amount.Equal(amount("10")) {
		t.Fatalf("unexpected deposit %+v", dep)
	}
	if _, err := f.ledger.Withdraw(ctx, u.ID, amount("10"), "first withdraw statement"); err != nil {
		t.Fatalf("withdrawing the whole balance must succeed: %v", err)
	}
	assertBalance(t, f.ledger, u.ID, "0")
}

func TestWithdrawWithInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "user.test@email.com")

	_, err := f.ledger.Withdraw(ctx, u.ID, amount("10"), "second withdraw statement")
	if !errors.Is(err, apperror.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	assertBalance(t, f.ledger, u.ID, "0")

	if _, err := f.ledger.Deposit(ctx, u.ID, amount("9.99"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Withdraw(ctx, u.ID, amount("10"), ""); !errors.Is(err, apperror.ErrInsufficientFunds) {
		t.Fatalf("amount above balance by one cent: want ErrInsufficientFunds, got %v", err)
	}
	assertBalance(t, f.ledger, u.ID, "9.99")
}

func TestAmountValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@email.com")
	b := f.user(t, "b@email.com")

	for _, bad := range []string{"0", "-5", "10.001", "1e-100000000", "10000000000", "9999999999.999", "1e100000000"} {
		if _, err := f.ledger.Deposit(ctx, a.ID, amount(bad), ""); apperror.KindOf(err) != apperror.Validation {
			t.Errorf("Deposit(%s): %v", bad, err)
		}
		if _, err := f.ledger.Withdraw(ctx, a.ID, amount(bad), ""); apperror.KindOf(err) != apperror.Validation {
			t.Errorf("Withdraw(%s): %v", bad, err)
		}
		if _, err := f.ledger.Transfer(ctx, a.ID, b.ID, amount(bad), ""); apperror.KindOf(err) != apperror.Validation {
			t.Errorf("Transfer(%s): %v", bad, err)
		}
	}
	if _, err := f.ledger.Record(ctx, a.ID, models.OperationType("refund"), amount("1"), "", nil); apperror.KindOf(err) != apperror.Validation {
		t.Errorf("Record with unknown type: %v", err)
	}
	if _, err := f.ledger.Record(ctx, a.ID, models.Transfer, amount("1"), "", nil); apperror.KindOf(err) != apperror.Validation {
		t.Errorf("Record transfer without sender: %v", err)
	}
	assertBalance(t, f.ledger, a.ID, "0")
}

func TestValidateAmountLimits(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"0.01", nil},
		{"10.000", nil},
		{"9999999999.99", nil},
		{"0", apperror.ErrInvalidAmount},
		{"0.001", apperror.ErrInvalidAmount},
		{"1e-100000000", apperror.ErrInvalidAmount},
		{"1e-21", apperror.ErrInvalidAmount},
		{"10000000000", apperror.ErrAmountTooLarge},
		{"9999999999.999", apperror.ErrInvalidAmount},
		{"1e11", apperror.ErrAmountTooLarge},
		{"1e100000000", apperror.ErrAmountTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d decimal.Decimal
			if err := d.UnmarshalJSON([]byte(`"` + tt.in + `"`)); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			done := make(chan error, 1)
			go func() { done <- ValidateAmount(d) }()
			select {
			case err := <-done:
				if tt.want == nil && err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if tt.want != nil && !errors.Is(err, tt.want) {
					t.Fatalf("want %v, got %v", tt.want, err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("ValidateAmount(%s) did not return", tt.in)
			}
		})
	}
}

func TestDescriptionLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "user.test@email.com")

	if _, err := f.ledger.Deposit(ctx, u.ID, amount("1"), strings.Repeat("é", 255)); err != nil {
		t.Fatalf("255 characters must fit: %v", err)
	}
	if _, err := f.ledger.Deposit(ctx, u.ID, amount("1"), strings.Repeat("x", 256)); !errors.Is(err, apperror.ErrDescriptionTooLong) {
		t.Fatalf("want ErrDescriptionTooLong, got %v", err)
	}
	assertBalance(t, f.ledger, u.ID, "1")
}

func TestTransferMovesFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@email.com")
	b := f.user(t, "b@email.com")
	if _, err := f.ledger.Deposit(ctx, a.ID, amount("100"), "salary"); err != nil {
		t.Fatal(err)
	}

	res, err := f.ledger.Transfer(ctx, a.ID, b.ID, amount("30"), "rent")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if res.Received.UserID != b.ID || res.Received.Type != models.Transfer ||
		res.Received.SenderID == nil || *res.Received.SenderID != a.ID {
		t.Fatalf("unexpected credit leg %+v", res.Received)
	}
	if res.Sent.UserID != a.ID || res.Sent.Type != models.Withdraw || res.Sent.SenderID != nil {
		t.Fatalf("unexpected debit leg %+v", res.Sent)
	}

	assertBalance(t, f.ledger, a.ID, "70")
	assertBalance(t, f.ledger, b.ID, "30")

	aList, _ := f.statements.ListByUser(ctx, a.ID)
	bList, _ := f.statements.ListByUser(ctx, b.ID)
	if len(aList) != 2 || len(bList) != 1 {
		t.Fatalf("expected exactly two new records, got a=%d b=%d", len(aList)-1, len(bList))
	}
}

func TestTransferFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@email.com")
	b := f.user(t, "b@email.com")
	if _, err := f.ledger.Deposit(ctx, a.ID, amount("50"), ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		sender   string
		receiver string
		amount   string
		want     error
	}{
		{"unknown receiver", a.ID, "ghost", "10", apperror.ErrUserNotFound},
		{"unknown sender", "ghost", b.ID, "10", apperror.ErrSenderNotFound},
		{"receiver checked before sender", "ghost", "ghost-2", "10", apperror.ErrUserNotFound},
		{"self transfer", a.ID, a.ID, "10", apperror.ErrSelfTransfer},
		{"insufficient funds", a.ID, b.ID, "50.01", apperror.ErrInsufficientFunds},
		{"empty sender balance", b.ID, a.ID, "1", apperror.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Transfer(ctx, tt.sender, tt.receiver, amount(tt.amount), "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.ledger.Transfer(ctx, a.ID, b.ID, amount("50"), "everything"); err != nil {
		t.Fatalf("transferring the exact balance must succeed: %v", err)
	}
	assertBalance(t, f.ledger, a.ID, "0")
	assertBalance(t, f.ledger, b.ID, "50")
}

var errCrash = errors.New("crash between transfer writes")

// flakyStatements fails the nth Create inside a transaction.
type flakyStatements struct {
	*repository.MemoryStatements
	failAfter int
}

func (f *flakyStatements) WithinTx(ctx context.Context, ids []string, fn func(repository.StatementRepository) error) error {
	return f.MemoryStatements.WithinTx(ctx, ids, func(tx repository.StatementRepository) error {
		return fn(&flakyTx{StatementRepository: tx, remaining: f.failAfter})
	})
}

type flakyTx struct {
	repository.StatementRepository
	remaining int
}

func (t *flakyTx) Create(ctx context.Context, st *models.Statement) error {
	if t.remaining == 0 {
		return errCrash
	}
	t.remaining--
	return t.StatementRepository.Create(ctx, st)
}

func TestTransferIsAtomic(t *testing.T) {
	userRepo := repository.NewMemoryUsers()
	store := &flakyStatements{MemoryStatements: repository.NewMemoryStatements(), failAfter: 1}
	directory := users.NewDirectory(userRepo, bcrypt.MinCost)
	ledger := NewLedger(directory, store, logging.Discard())
	ctx := context.Background()

	a, _ := directory.Create(ctx, "A", "a@email.com", "1234")
	b, _ := directory.Create(ctx, "B", "b@email.com", "1234")
	if _, err := ledger.Deposit(ctx, a.ID, amount("100"), ""); err != nil {
		t.Fatal(err)
	}

	_, err := ledger.Transfer(ctx, a.ID, b.ID, amount("30"), "rent")
	if !errors.Is(err, errCrash) {
		t.Fatalf("want injected crash, got %v", err)
	}
	if apperror.KindOf(err) != apperror.Internal {
		t.Fatalf("a storage failure must not look like a domain error")
	}

	assertBalance(t, ledger, a.ID, "100")
	assertBalance(t, ledger, b.ID, "0")
	if list, _ := store.ListByUser(ctx, b.ID); len(list) != 0 {
		t.Fatalf("half-applied transfer left a credit: %+v", list)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "user.test@email.com")
	if _, err := f.ledger.Deposit(ctx, u.ID, amount("100"), ""); err != nil {
		t.Fatal(err)
	}

	const workers = 50
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.ledger.Withdraw(ctx, u.ID, amount("10"), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 || insufficient != workers-10 {
		t.Fatalf("succeeded=%d insufficient=%d", succeeded, insufficient)
	}
	assertBalance(t, f.ledger, u.ID, "0")
}

func TestConcurrentTransfersPreserveTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@email.com")
	b := f.user(t, "b@email.com")
	f.ledger.Deposit(ctx, a.ID, amount("100"), "")
	f.ledger.Deposit(ctx, b.ID, amount("100"), "")

	const n = 100
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			f.ledger.Transfer(ctx, a.ID, b.ID, amount("3"), "")
		}()
		go func() {
			defer wg.Done()
			f.ledger.Transfer(ctx, b.ID, a.ID, amount("3"), "")
		}()
	}
	wg.Wait()

	ba, _ := f.ledger.GetBalance(ctx, a.ID, false)
	bb, _ := f.ledger.GetBalance(ctx, b.ID, false)
	if ba.Balance.IsNegative() || bb.Balance.IsNegative() {
		t.Fatalf("negative balance: a=%s b=%s", ba.Balance, bb.Balance)
	}
	if total := ba.Balance.Add(bb.Balance); !total.Equal(amount("200")) {
		t.Fatalf("total=%s want 200", total)
	}
}

func TestGetStatementIsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@email.com")
	b := f.user(t, "b@email.com")

	dep, err := f.ledger.Deposit(ctx, a.ID, amount("10"), "first deposit statement")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.ledger.GetStatement(ctx, a.ID, dep.ID)
	if err != nil {
		t.Fatalf("GetStatement: %v", err)
	}
	if got.ID != dep.ID || got.Description != "first deposit statement" {
		t.Fatalf("unexpected statement %+v", got)
	}

	if _, err := f.ledger.GetStatement(ctx, b.ID, dep.ID); !errors.Is(err, apperror.ErrStatementNotFound) {
		t.Fatalf("foreign statement: want ErrStatementNotFound, got %v", err)
	}
	if _, err := f.ledger.GetStatement(ctx, a.ID, "missing"); !errors.Is(err, apperror.ErrStatementNotFound) {
		t.Fatalf("missing statement: want ErrStatementNotFound, got %v", err)
	}

	f.users.Delete(a.ID)
	if _, err := f.ledger.GetStatement(ctx, a.ID, dep.ID); !errors.Is(err, apperror.ErrUserNotFound) {
		t.Fatalf("deleted owner: want ErrUserNotFound, got %v", err)
	}
}

func TestHistoryFiltersByDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "user.test@email.com")

	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		current := day.AddDate(0, 0, i)
		f.ledger.now = func() time.Time { return current }
		if _, err := f.ledger.Deposit(ctx, u.ID, amount("1"), ""); err != nil {
			t.Fatal(err)
		}
	}

	from := day.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	got, err := f.ledger.History(ctx, u.ID, &from, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("from filter: got %d statements want 2", len(got))
	}

	to := day.Add(time.Hour)
	got, err = f.ledger.History(ctx, u.ID, nil, &to)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("to filter: got %d statements want 1", len(got))
	}
}
