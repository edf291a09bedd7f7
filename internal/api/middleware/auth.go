package middleware

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/authz"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/utils"
)

type contextKey string

const CallerKey contextKey = "caller"

var jwtSecret = config.Envs.JWTSecret

// CallerFromContext returns the authenticated caller resolved by
// AuthMiddleware.
func CallerFromContext(ctx context.Context) (authz.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(authz.Caller)
	return caller, ok
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr, err := r.Cookie("token")
		if err != nil {
			unauthorized(w)
			return
		}

		token, err := jwt.Parse(tokenStr.Value, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})

		if err != nil || !token.Valid {
			unauthorized(w)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(w)
			return
		}

		userID, ok := claims["userId"].(string)
		if !ok || userID == "" {
			unauthorized(w)
			return
		}
		id, err := uuid.Parse(userID)
		if err != nil {
			unauthorized(w)
			return
		}

		superuser, _ := claims["superuser"].(bool)

		caller := authz.Caller{ID: id, Superuser: superuser}
		ctx := context.WithValue(r.Context(), CallerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
		Success: false,
		Message: "Unauthorized",
	})
}
