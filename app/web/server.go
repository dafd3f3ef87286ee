package web

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zero-network/txexporter/app/web/controller"
	"github.com/zero-network/txexporter/app/web/types"
	"github.com/zero-network/txexporter/pkg/utils"
)

// NewServer builds the router and attaches the HTTP server to app.
func NewServer(app *types.App) error {
	ctler, err := controller.NewController(app)
	if err != nil {
		return err
	}
	router := ctler.NewRouter()

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":5000")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithRecover(app.Logger, router),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
