package swap

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/claimswap/claimswap/pkg/fault"
	"github.com/claimswap/claimswap/pkg/oracle"
)

// FeeScale is the denominator for fee and tolerance values.
const FeeScale = oracle.FeeScale

// GrowthScale is the denominator for growth multipliers.
const GrowthScale = oracle.GrowthScale

// OracleParams configures the price report a matched swap opens.
type OracleParams struct {
	SettlerReward    *big.Int
	InitialLiquidity *big.Int // the fixed token1 side of every claim
	EscalationHalt   *big.Int
	SettlementTime   time.Duration
	LatencyBailout   time.Duration
	MaxGameTime      time.Duration
	BlocksPerSecond  uint64 // GrowthScale-scaled
	DisputeDelay     time.Duration
	SwapFee          uint64 // FeeScale-scaled, protocol cut of the fulfillment fee
	ProtocolFee      uint64 // FeeScale-scaled, oracle bond skim
	Multiplier       uint64 // GrowthScale-scaled
	TimeType         oracle.TimeType
}

// SlippageParams bounds the settled price around the price the swapper
// tolerated at creation.
type SlippageParams struct {
	PriceTolerated *big.Int // PriceScale-scaled
	ToleranceRange uint64   // FeeScale-scaled, in (0, FeeScale]
}

// FulfillFeeParams drives the matcher's fee, which grows per whole round
// the swap sat unmatched and freezes at match time.
type FulfillFeeParams struct {
	MaxFee      uint64 // FeeScale-scaled, in (0, FeeScale)
	StartingFee uint64 // in (0, MaxFee]
	RoundLength time.Duration
	GrowthRate  uint64 // GrowthScale-scaled
	MaxRounds   uint64
}

// BountyParams configures the first-report reward.
type BountyParams struct {
	TotalAmtDeposited *big.Int
	BountyStartAmt    *big.Int
	RoundLength       time.Duration
	BountyToken       common.Address
	BountyMultiplier  uint64 // GrowthScale-scaled
	MaxRounds         uint64
}

// Terms is everything a swapper fixes at creation.
type Terms struct {
	Swapper             common.Address
	SellToken           common.Address
	SellAmt             *big.Int
	BuyToken            common.Address
	MinOut              *big.Int
	MinFulfillLiquidity *big.Int
	Deadline            time.Time
	GasCompensation     *big.Int

	Oracle     OracleParams
	Slippage   SlippageParams
	FulfillFee FulfillFeeParams
	Bounty     BountyParams
}

func (t *Terms) validate(now time.Time) error {
	if t.SellToken == t.BuyToken {
		return fault.Invalid("sellToken = buyToken")
	}
	if t.SellAmt == nil || t.SellAmt.Sign() <= 0 ||
		t.MinOut == nil || t.MinOut.Sign() <= 0 ||
		t.MinFulfillLiquidity == nil || t.MinFulfillLiquidity.Sign() <= 0 {
		return fault.Invalid("zero amounts")
	}
	if t.MinOut.Cmp(t.MinFulfillLiquidity) > 0 {
		return fault.Invalid("liquidity bounds")
	}
	if !now.Before(t.Deadline) {
		return fault.Invalid("expired")
	}
	if t.GasCompensation == nil || t.GasCompensation.Sign() < 0 {
		return fault.Invalid("zero amounts")
	}

	o := t.Oracle
	switch {
	case o.SettlerReward == nil || o.SettlerReward.Sign() < 0,
		o.InitialLiquidity == nil || o.InitialLiquidity.Sign() <= 0,
		o.EscalationHalt == nil || o.EscalationHalt.Cmp(o.InitialLiquidity) < 0,
		o.SettlementTime <= 0,
		o.DisputeDelay <= 0 || o.DisputeDelay >= o.SettlementTime,
		o.LatencyBailout <= 0,
		o.MaxGameTime < o.SettlementTime*20,
		o.BlocksPerSecond == 0,
		o.Multiplier < GrowthScale:
		return fault.Invalid("oracleParams")
	}
	if o.SwapFee+o.ProtocolFee >= FeeScale {
		return fault.Invalid("fulfillmentFee")
	}

	f := t.FulfillFee
	switch {
	case f.MaxFee == 0 || f.MaxFee >= FeeScale,
		f.StartingFee == 0 || f.StartingFee > f.MaxFee,
		f.RoundLength <= 0,
		f.GrowthRate == 0,
		f.MaxRounds == 0:
		return fault.Invalid("fulfillFeeParams")
	}

	s := t.Slippage
	if s.PriceTolerated == nil || s.PriceTolerated.Sign() <= 0 ||
		s.ToleranceRange == 0 || s.ToleranceRange > FeeScale {
		return fault.Invalid("slippageParams")
	}

	b := t.Bounty
	switch {
	case b.TotalAmtDeposited == nil || b.TotalAmtDeposited.Sign() <= 0,
		b.BountyStartAmt == nil || b.BountyStartAmt.Sign() <= 0,
		b.BountyStartAmt.Cmp(b.TotalAmtDeposited) > 0,
		b.RoundLength <= 0,
		b.BountyMultiplier < GrowthScale,
		b.MaxRounds == 0:
		return fault.Invalid("bountyParams")
	}
	return nil
}

func (t *Terms) clone() Terms {
	c := *t
	c.SellAmt = new(big.Int).Set(t.SellAmt)
	c.MinOut = new(big.Int).Set(t.MinOut)
	c.MinFulfillLiquidity = new(big.Int).Set(t.MinFulfillLiquidity)
	c.GasCompensation = new(big.Int).Set(t.GasCompensation)
	c.Oracle.SettlerReward = new(big.Int).Set(t.Oracle.SettlerReward)
	c.Oracle.InitialLiquidity = new(big.Int).Set(t.Oracle.InitialLiquidity)
	c.Oracle.EscalationHalt = new(big.Int).Set(t.Oracle.EscalationHalt)
	c.Slippage.PriceTolerated = new(big.Int).Set(t.Slippage.PriceTolerated)
	c.Bounty.TotalAmtDeposited = new(big.Int).Set(t.Bounty.TotalAmtDeposited)
	c.Bounty.BountyStartAmt = new(big.Int).Set(t.Bounty.BountyStartAmt)
	return c
}
