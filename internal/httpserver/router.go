package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bx-funddesk/internal/admin"
	"bx-funddesk/internal/funds"
	"bx-funddesk/internal/httputil"
)

type RouterDeps struct {
	AdminHandler  *admin.Handler
	FundsHandler  *funds.Handler
	EventsWS      http.Handler
	JWTSecret     string
	InternalToken string
	CORSOrigin    string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS for the admin panel
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := d.CORSOrigin
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", d.AdminHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(admin.ActorAuth(d.JWTSecret))
				r.Get("/me", d.AdminHandler.Me)
				r.Get("/events/ws", d.EventsWS.ServeHTTP)

				r.Route("/funds", func(r chi.Router) {
					r.Get("/requests", withActor(d.FundsHandler.ListRequests))
					r.Get("/requests/{id}/proof", withActor(d.FundsHandler.Proof))
					r.Post("/deposits/{id}/approve", withActor(d.FundsHandler.ApproveDeposit))
					r.Post("/deposits/{id}/reject", withActor(d.FundsHandler.RejectDeposit))
					r.Post("/withdrawals/{id}/approve", withActor(d.FundsHandler.ApproveWithdrawal))
					r.Post("/withdrawals/{id}/reject", withActor(d.FundsHandler.RejectWithdrawal))
					r.Post("/credit", withActor(d.FundsHandler.Credit))
					r.Post("/debit", withActor(d.FundsHandler.Debit))
				})
			})
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/deposits", d.FundsHandler.OriginateDeposit)
			r.Post("/withdrawals", d.FundsHandler.OriginateWithdrawal)
		})
	})

	return r
}

func withActor(h func(http.ResponseWriter, *http.Request, funds.AdminActor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := admin.ActorFrom(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, actor)
	}
}
