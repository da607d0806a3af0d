package oracle

import (
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TimeType selects how a report measures elapsed time.
type TimeType uint8

const (
	// TimeWall measures elapsed time with the wall clock.
	TimeWall TimeType = iota
	// TimeBlock measures elapsed time by block count, converted to seconds
	// through BlocksPerSecond.
	TimeBlock
)

// FeeScale is the denominator for feePercentage values.
const FeeScale = 10_000_000

// GrowthScale is the denominator for escalation multipliers.
const GrowthScale = 10_000

// PriceScale is the fixed-point scale of settled prices.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Consumer receives the one-shot settlement callback. Errors and panics from
// the consumer are swallowed by the engine; finality never depends on them.
type Consumer interface {
	OnSettle(reportID uint64, price *big.Int, settledAt time.Time, token1, token2 common.Address) error
}

// Params is the immutable configuration of a price report.
type Params struct {
	Token1            common.Address
	Token2            common.Address
	ExactToken1Amount *big.Int // the fixed side of every claim, also the first bond
	SettlementTime    time.Duration
	DisputeDelay      time.Duration
	EscalationHalt    *big.Int // bond cap; disputes requiring more are rejected
	Multiplier        uint64   // bond growth per dispute, GrowthScale-scaled
	TimeType          TimeType
	BlocksPerSecond   uint64 // blocks per second, GrowthScale-scaled
	SettlerReward     *big.Int
	FeePercentage     uint64 // protocol skim of the final bond, FeeScale-scaled
	FeeRecipient      common.Address
	Creator           common.Address
}

// Report is a single escalating price claim. The claim state mutates under
// the report mutex until Distributed freezes it forever.
type Report struct {
	mu sync.Mutex

	ID     uint64
	Params Params

	// Claim state. Amount1/Amount2 hold the current best claim; price is
	// Amount1*PriceScale/Amount2 once distributed.
	Amount1          *big.Int
	Amount2          *big.Int
	Bond             *big.Int
	Claimant         common.Address
	Rounds           uint64
	LastUpdate       time.Time
	LastUpdateHeight uint64
	Distributed      bool
	SettledPrice     *big.Int
	SettledAt        time.Time

	consumer Consumer
}

// Meta is the immutable view of a report.
type Meta struct {
	ID     uint64
	Params Params
}

// Status is a snapshot of the mutable claim state.
type Status struct {
	Amount1          *big.Int
	Amount2          *big.Int
	Bond             *big.Int
	Claimant         common.Address
	Rounds           uint64
	LastUpdate       time.Time
	LastUpdateHeight uint64
	Distributed      bool
	Price            *big.Int
}

func (r *Report) hasClaim() bool {
	return r.Amount2 != nil && r.Amount2.Sign() > 0
}

// digest hashes the mutable claim state. Claims must present the digest of
// the state they were computed against; anything staler is rejected.
func (r *Report) digest() []byte {
	var buf []byte
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], r.ID)
	buf = append(buf, u64[:]...)
	buf = append(buf, pad32(r.Amount1)...)
	buf = append(buf, pad32(r.Amount2)...)
	buf = append(buf, pad32(r.Bond)...)
	buf = append(buf, r.Claimant.Bytes()...)
	binary.BigEndian.PutUint64(u64[:], uint64(r.LastUpdate.UnixNano()))
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], r.LastUpdateHeight)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], r.Rounds)
	buf = append(buf, u64[:]...)
	if r.Distributed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return crypto.Keccak256(buf)
}

func (r *Report) status() Status {
	st := Status{
		Claimant:         r.Claimant,
		Rounds:           r.Rounds,
		LastUpdate:       r.LastUpdate,
		LastUpdateHeight: r.LastUpdateHeight,
		Distributed:      r.Distributed,
	}
	if r.Amount1 != nil {
		st.Amount1 = new(big.Int).Set(r.Amount1)
	}
	if r.Amount2 != nil {
		st.Amount2 = new(big.Int).Set(r.Amount2)
	}
	if r.Bond != nil {
		st.Bond = new(big.Int).Set(r.Bond)
	}
	if r.SettledPrice != nil {
		st.Price = new(big.Int).Set(r.SettledPrice)
	}
	return st
}

func pad32(v *big.Int) []byte {
	var out [32]byte
	if v != nil {
		v.FillBytes(out[:])
	}
	return out[:]
}
