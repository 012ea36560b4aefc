package admin

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"bx-funddesk/internal/httputil"
	"bx-funddesk/internal/types"
)

// Handler handles admin authentication against the admin_users table.
type Handler struct {
	pool      *pgxpool.Pool
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewHandler(pool *pgxpool.Pool, jwtSecret string, tokenTTL time.Duration) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{pool: pool, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request"})
		return
	}

	var id, passwordHash, role string
	err := h.pool.QueryRow(r.Context(),
		"SELECT id, password_hash, role FROM admin_users WHERE username = $1 AND active", req.Username,
	).Scan(&id, &passwordHash, &role)
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      id,
		"username": req.Username,
		"role":     role,
		"iat":      now.Unix(),
		"exp":      now.Add(h.tokenTTL).Unix(),
	})
	tokenStr, err := token.SignedString(h.jwtSecret)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "token generation failed"})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":    tokenStr,
		"username": req.Username,
		"role":     role,
	})
}

// Me returns the identity behind a valid token, for the admin panel shell.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r)
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing identity"})
		return
	}
	var username string
	if err := h.pool.QueryRow(r.Context(),
		"SELECT username FROM admin_users WHERE id = $1", actor.ID,
	).Scan(&username); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "admin not found"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"id":       actor.ID,
		"username": username,
		"role":     string(actor.Role),
	})
}

func validRole(role types.AdminRole) bool {
	switch role {
	case types.AdminRoleSuperAdmin, types.AdminRoleAdmin, types.AdminRoleModerator:
		return true
	}
	return false
}
