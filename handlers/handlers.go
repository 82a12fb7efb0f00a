package handlers

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"finledger/apperror"
	"finledger/auth"
	"finledger/export"
	"finledger/statements"
	"finledger/users"
)

// App carries the services the HTTP handlers call into.
type App struct {
	Logger *slog.Logger
	Users  *users.Directory
	Auth   *auth.Service
	Ledger *statements.Ledger
	Health Pinger
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type operationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// decodeOperation reads a deposit, withdraw or transfer body and rejects
// out-of-range amounts before the ledger does any arithmetic on them.
func (a *App) decodeOperation(w http.ResponseWriter, r *http.Request) (operationRequest, bool) {
	var req operationRequest
	if !a.decode(w, r, &req) {
		return req, false
	}
	if err := statements.ValidateOperation(req.Amount, req.Description); err != nil {
		a.writeError(w, r, err)
		return req, false
	}
	return req, true
}

func (a *App) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}

	user, err := a.Users.Create(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *App) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}

	session, err := a.Auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *App) Profile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	user, err := a.Users.FindByID(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *App) Deposit(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeOperation(w, r)
	if !ok {
		return
	}

	userID, _ := auth.UserID(r.Context())
	st, err := a.Ledger.Deposit(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (a *App) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeOperation(w, r)
	if !ok {
		return
	}

	userID, _ := auth.UserID(r.Context())
	st, err := a.Ledger.Withdraw(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// Transfer sends funds from the authenticated user to the user in the path.
func (a *App) Transfer(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeOperation(w, r)
	if !ok {
		return
	}

	senderID, _ := auth.UserID(r.Context())
	receiverID := mux.Vars(r)["user_id"]
	result, err := a.Ledger.Transfer(r.Context(), senderID, receiverID, req.Amount, req.Description)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *App) Balance(w http.ResponseWriter, r *http.Request) {
	include := true
	if raw := r.URL.Query().Get("with_statement"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeError(w, r, apperror.Validationf("with_statement must be true or false"))
			return
		}
		include = v
	}

	userID, _ := auth.UserID(r.Context())
	balance, err := a.Ledger.GetBalance(r.Context(), userID, include)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !include {
		writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance.Balance})
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *App) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	st, err := a.Ledger.GetStatement(r.Context(), userID, mux.Vars(r)["statement_id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Export downloads the authenticated user's statements, optionally limited to
// an inclusive from/to date range (YYYY-MM-DD).
func (a *App) Export(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	from, err := parseDate(query.Get("from"), "from")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := parseDate(query.Get("to"), "to")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if to != nil {
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	if from != nil && to != nil && from.After(*to) {
		a.writeError(w, r, apperror.Validationf("from must not be after to"))
		return
	}

	userID, _ := auth.UserID(r.Context())
	owner, err := a.Users.FindByID(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	history, err := a.Ledger.History(r.Context(), userID, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	report := export.Report{Owner: owner, From: from, To: to, Statements: history}
	if err := export.Write(&buf, format, report); err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format != export.JSON {
		w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename()+`"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func parseDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperror.Validationf("Invalid %s date format. Use YYYY-MM-DD", field)
	}
	return &t, nil
}
