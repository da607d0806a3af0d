package controller

import (
	"net/http"

	"github.com/claimswap/claimswap/app/types"
	"github.com/claimswap/claimswap/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type Controller struct {
	App        *types.App
	AdminToken string
	AuthUser   string
	Users      map[string]types.User
	AuthHash   []byte
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsersJSON := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(adminPass)
	users := map[string]types.User{}
	users[adminUser] = types.User{Username: adminUser, Hash: phash, Role: "admin"}
	if adminUsersJSON != "" {
		_ = json.Unmarshal([]byte(adminUsersJSON), &users)
	}

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		AuthUser:   adminUser,
		Users:      users,
		AuthHash:   phash,
		JWTSecret:  jwtSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	// Auth
	r.HandleFunc("/api/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleLogout).Methods(http.MethodPost)

	// Oracle surface
	r.HandleFunc("/api/reports", c.HandleReportCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/reports/{id}", c.HandleReportStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/reports/{id}/meta", c.HandleReportMeta).Methods(http.MethodGet)
	r.HandleFunc("/api/reports/{id}/digest", c.HandleReportDigest).Methods(http.MethodGet)
	r.HandleFunc("/api/reports/{id}/claims", c.HandleClaimSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/reports/{id}/bounty-claims", c.HandleBountyReport).Methods(http.MethodPost)
	r.HandleFunc("/api/reports/{id}/settle", c.HandleReportSettle).Methods(http.MethodPost)

	// Swap surface
	r.HandleFunc("/api/swaps", c.HandleSwapCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/swaps/{id}", c.HandleSwapGet).Methods(http.MethodGet)
	r.HandleFunc("/api/swaps/{id}/digest", c.HandleSwapDigest).Methods(http.MethodGet)
	r.HandleFunc("/api/swaps/{id}/match", c.HandleSwapMatch).Methods(http.MethodPost)
	r.HandleFunc("/api/swaps/{id}/cancel", c.HandleSwapCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/swaps/{id}/bailout", c.HandleSwapBailOut).Methods(http.MethodPost)
	r.HandleFunc("/api/swaps/{id}/fees", c.HandleSwapGrabFees).Methods(http.MethodPost)
	r.HandleFunc("/api/holdings/withdraw", c.HandleWithdrawHolding).Methods(http.MethodPost)

	// Bank
	r.HandleFunc("/api/bank/balance", c.HandleBankBalance).Methods(http.MethodGet)
	r.Handle("/api/bank/deposit", c.RequireAdmin(http.HandlerFunc(c.HandleBankDeposit))).Methods(http.MethodPost)

	// Admin
	r.Handle("/api/admin/keeper/pause", c.RequireAdmin(http.HandlerFunc(c.HandleKeeperPause))).Methods(http.MethodPost)
	r.Handle("/api/admin/keeper/resume", c.RequireAdmin(http.HandlerFunc(c.HandleKeeperResume))).Methods(http.MethodPost)

	// WebSocket endpoint for real-time events
	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
