package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sjaiswal27/courierdrop/internal/auth"
	"github.com/sjaiswal27/courierdrop/internal/utils"
)

type contextKey string

const UserIDKey contextKey = "userID"

// Auth validates the bearer session token and stores the caller's user id in
// the request context.
func Auth(tokens *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
					Success: false,
					Message: "Unauthorized",
				})
				return
			}

			userID, err := tokens.VerifySession(tokenStr)
			if err != nil {
				utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
					Success: false,
					Message: "Unauthorized",
				})
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user id set by Auth.
func UserID(r *http.Request) (uint, bool) {
	id, ok := r.Context().Value(UserIDKey).(uint)
	return id, ok
}
