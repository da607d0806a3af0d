package types

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/claimswap/claimswap/pkg/archive"
	"github.com/claimswap/claimswap/pkg/bounty"
	"github.com/claimswap/claimswap/pkg/chainclock"
	"github.com/claimswap/claimswap/pkg/events"
	"github.com/claimswap/claimswap/pkg/keeper"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/swap"
	"github.com/claimswap/claimswap/pkg/token"
)

// User is an admin-surface account.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

// App wires the engines, their collaborators and the HTTP surface.
type App struct {
	Logger *zap.Logger
	Bank   *token.Bank
	Clock  chainclock.Clock
	Bus    *events.Bus

	Oracle *oracle.Engine
	Swaps  *swap.Engine
	Bounty *bounty.Service

	Keeper  *keeper.Keeper
	Archive *archive.Archive // nil unless CLICKHOUSE_ENABLED

	Server *http.Server
}
