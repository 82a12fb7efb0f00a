package auth

import (
	"context"
	"net/http"
	"strings"

	"finledger/apperror"
)

type contextKey struct{}

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// VerifyToken rejects requests without a valid bearer token and stores the
// token's user id in the request context.
func VerifyToken(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				apperror.ErrTokenMissing.WriteJSON(w)
				return
			}

			scheme, tokenString, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
				apperror.ErrInvalidToken.WriteJSON(w)
				return
			}

			userID, err := verifier.Verify(strings.TrimSpace(tokenString))
			if err != nil {
				apperror.ErrInvalidToken.WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the acting user set by VerifyToken.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}
