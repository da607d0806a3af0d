package swap

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/claimswap/claimswap/pkg/oracle"
)

// BountyFund describes an escalating-reward request for the first price
// report on an oracle request.
type BountyFund struct {
	ReportID         uint64
	StartAmt         *big.Int
	Creator          common.Address // recall recipient
	Editor           common.Address
	Multiplier       uint64 // GrowthScale-scaled
	MaxRounds        uint64
	TimeType         oracle.TimeType
	ForwardStartTime time.Time
	Token            common.Address
	MaxAmount        *big.Int
	RoundLength      time.Duration
	Funder           common.Address // escrow is pulled from this account
}

// BountyService is the engine-side view of the bounty collaborator.
type BountyService interface {
	FundClaim(ctx context.Context, f BountyFund) error
	RecallBounty(ctx context.Context, reportID uint64) (*big.Int, error)
}

// RebateHook is invoked best-effort after a successful fulfillment. A
// failing hook is logged and ignored.
type RebateHook interface {
	OnFulfill(swapID uint64, swapper, matcher common.Address, fulfillAmt *big.Int) error
}
