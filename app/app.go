// Package app assembles the claimswap daemon: the token bank, both engines,
// the bounty collaborator, the keeper loop, the optional archive, and the
// HTTP/websocket surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/claimswap/claimswap/app/types"
	"github.com/claimswap/claimswap/pkg/archive"
	"github.com/claimswap/claimswap/pkg/bounty"
	"github.com/claimswap/claimswap/pkg/chainclock"
	"github.com/claimswap/claimswap/pkg/events"
	"github.com/claimswap/claimswap/pkg/keeper"
	"github.com/claimswap/claimswap/pkg/logging"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/swap"
	"github.com/claimswap/claimswap/pkg/token"
	"github.com/claimswap/claimswap/pkg/utils"
)

// Initialize builds the App from environment configuration.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	var redisPub *events.RedisPublisher
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisPub, err = events.NewRedisPublisher(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(err))
		}
	}

	bank := token.NewBank()
	clock := chainclock.NewSystem()
	bus := events.NewBus(logger, redisPub)

	orc := oracle.NewEngine(logger, bank, clock, bus)
	bountySvc := bounty.NewService(logger, bank, clock, orc)
	swaps := swap.NewEngine(logger, bank, clock, bus, orc, bountySvc)

	app := &types.App{
		Logger: logger,
		Bank:   bank,
		Clock:  clock,
		Bus:    bus,
		Oracle: orc,
		Swaps:  swaps,
		Bounty: bountySvc,
		Keeper: keeper.New(logger, orc, swaps),
	}

	if utils.EnvBool("CLICKHOUSE_ENABLED", false) {
		app.Archive, err = archive.New(ctx, logger, orc, swaps)
		if err != nil {
			logger.Fatal("Unable to initialize ClickHouse archive", zap.Error(err))
		}
	}

	if err := NewServer(app); err != nil {
		logger.Fatal("Unable to initialize server", zap.Error(err))
	}
	return app
}

// Start runs the server and the keeper until ctx is cancelled.
func Start(ctx context.Context, app *types.App) {
	if err := app.Keeper.Start(ctx); err != nil {
		app.Logger.Fatal("Unable to start keeper", zap.Error(err))
	}
	if app.Archive != nil {
		go app.Archive.Run(ctx, app.Bus)
	}

	go func() {
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	app.Logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.Server.Shutdown(shutdownCtx)
	app.Keeper.Stop()
	if app.Archive != nil {
		_ = app.Archive.Close()
	}
}
