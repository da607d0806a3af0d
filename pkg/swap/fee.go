package swap

import (
	"math/big"
	"time"
)

// fulfillmentFee computes min(maxFee, startingFee × growthRate^rounds /
// GrowthScale^rounds) where rounds = min(maxRounds, ⌊elapsed/roundLength⌋).
// Only whole rounds advance the fee.
func fulfillmentFee(p FulfillFeeParams, elapsed time.Duration) uint64 {
	rounds := uint64(elapsed / p.RoundLength)
	if rounds > p.MaxRounds {
		rounds = p.MaxRounds
	}
	fee := new(big.Int).SetUint64(p.StartingFee)
	growth := new(big.Int).SetUint64(p.GrowthRate)
	scale := big.NewInt(GrowthScale)
	maxFee := new(big.Int).SetUint64(p.MaxFee)
	for i := uint64(0); i < rounds; i++ {
		fee.Mul(fee, growth)
		fee.Div(fee, scale)
		if fee.Cmp(maxFee) >= 0 {
			return p.MaxFee
		}
	}
	return fee.Uint64()
}

// fixedFee reports whether the fee schedule degenerates to a single value,
// letting match skip the growth computation entirely.
func fixedFee(p FulfillFeeParams) bool {
	return p.MaxFee == p.StartingFee && p.MaxRounds == 1
}
