package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"bx-funddesk/internal/funds"
	"bx-funddesk/internal/httputil"
	"bx-funddesk/internal/types"
)

type ctxKey string

const actorKey ctxKey = "admin_actor"

// ActorAuth validates the admin JWT and resolves the acting admin into
// the request context. It only authenticates; whether the role may move
// funds is decided inside the fund transaction itself.
func ActorAuth(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing authorization"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid authorization format"})
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "invalid token"})
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid claims"})
				return
			}

			sub, _ := claims["sub"].(string)
			roleStr, _ := claims["role"].(string)
			role := types.AdminRole(roleStr)
			if sub == "" || !validRole(role) {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "admin access required"})
				return
			}

			actor := funds.AdminActor{ID: sub, Role: role}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom extracts the acting admin placed by ActorAuth.
func ActorFrom(r *http.Request) (funds.AdminActor, bool) {
	v := r.Context().Value(actorKey)
	if v == nil {
		return funds.AdminActor{}, false
	}
	actor, ok := v.(funds.AdminActor)
	return actor, ok
}
