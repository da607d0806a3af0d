package app

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/claimswap/claimswap/app/controller"
	"github.com/claimswap/claimswap/app/types"
	"github.com/claimswap/claimswap/pkg/utils"
)

// NewServer creates the HTTP server and attaches it to the App.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
