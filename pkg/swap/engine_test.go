package swap_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/claimswap/claimswap/pkg/bounty"
	"github.com/claimswap/claimswap/pkg/chainclock"
	"github.com/claimswap/claimswap/pkg/events"
	"github.com/claimswap/claimswap/pkg/fault"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/swap"
	"github.com/claimswap/claimswap/pkg/token"
)

var (
	sellToken   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	buyToken    = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	bountyToken = common.HexToAddress("0x0000000000000000000000000000000000000b03")
	swapper     = common.HexToAddress("0x0000000000000000000000000000000000000201")
	matcher     = common.HexToAddress("0x0000000000000000000000000000000000000202")
	reporter    = common.HexToAddress("0x0000000000000000000000000000000000000203")
	settler     = common.HexToAddress("0x0000000000000000000000000000000000000204")
	stranger    = common.HexToAddress("0x0000000000000000000000000000000000000205")
)

// eth scales n up to 18 decimals.
func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type stack struct {
	bank   *token.Bank
	clock  *chainclock.Manual
	oracle *oracle.Engine
	bounty *bounty.Service
	swaps  *swap.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bank := token.NewBank()
	clock := chainclock.NewManual(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus(logger, nil)
	orc := oracle.NewEngine(logger, bank, clock, bus)
	bty := bounty.NewService(logger, bank, clock, orc)
	eng := swap.NewEngine(logger, bank, clock, bus, orc, bty)
	return &stack{bank: bank, clock: clock, oracle: orc, bounty: bty, swaps: eng}
}

// defaultTerms sells 10 sellToken for buyToken at a tolerated price of
// 1 sellToken = 2000 buyToken. With the 0.1% starting fee the fulfillment
// on a claim of (1, 2000) comes out to 19980 buyToken.
func defaultTerms(now time.Time) swap.Terms {
	return swap.Terms{
		Swapper:             swapper,
		SellToken:           sellToken,
		SellAmt:             eth(10),
		BuyToken:            buyToken,
		MinOut:              eth(19000),
		MinFulfillLiquidity: eth(21000),
		Deadline:            now.Add(time.Hour),
		GasCompensation:     big.NewInt(5),
		Oracle: swap.OracleParams{
			SettlerReward:    big.NewInt(50),
			InitialLiquidity: eth(1),
			EscalationHalt:   eth(1000),
			SettlementTime:   600 * time.Second,
			LatencyBailout:   300 * time.Second,
			MaxGameTime:      12000 * time.Second,
			BlocksPerSecond:  swap.GrowthScale,
			DisputeDelay:     60 * time.Second,
			SwapFee:          0,
			ProtocolFee:      0,
			Multiplier:       2 * swap.GrowthScale,
			TimeType:         oracle.TimeWall,
		},
		Slippage: swap.SlippageParams{
			PriceTolerated: new(big.Int).Div(new(big.Int).Mul(eth(1), oracle.PriceScale), eth(2000)),
			ToleranceRange: swap.FeeScale / 10, // 10%
		},
		FulfillFee: swap.FulfillFeeParams{
			MaxFee:      100_000, // 1%
			StartingFee: 10_000,  // 0.1%
			RoundLength: 120 * time.Second,
			GrowthRate:  15_000, // 1.5x per round
			MaxRounds:   10,
		},
		Bounty: swap.BountyParams{
			TotalAmtDeposited: big.NewInt(100),
			BountyStartAmt:    big.NewInt(10),
			RoundLength:       60 * time.Second,
			BountyToken:       bountyToken,
			BountyMultiplier:  2 * swap.GrowthScale,
			MaxRounds:         3,
		},
	}
}

// fundSwapper mints exactly what Create escrows for the given terms.
func (s *stack) fundSwapper(t swap.Terms) {
	s.bank.Mint(swapper, t.SellToken, t.SellAmt)
	s.bank.Mint(swapper, t.Bounty.BountyToken, t.Bounty.TotalAmtDeposited)
	extras := new(big.Int).Add(t.GasCompensation, t.Oracle.SettlerReward)
	extras.Add(extras, big.NewInt(1))
	s.bank.Mint(swapper, token.Native, extras)
}

func (s *stack) create(t *testing.T, terms swap.Terms) uint64 {
	t.Helper()
	s.fundSwapper(terms)
	id, err := s.swaps.Create(context.Background(), terms)
	require.NoError(t, err)
	return id
}

func (s *stack) match(t *testing.T, id uint64, terms swap.Terms) {
	t.Helper()
	s.bank.Mint(matcher, terms.BuyToken, terms.MinFulfillLiquidity)
	digest, err := s.swaps.Digest(id)
	require.NoError(t, err)
	require.NoError(t, s.swaps.Match(context.Background(), id, digest, matcher))
}

// claimAndSettle drives the oracle game to completion with a single claim
// of (amount1, amount2) and returns the settled price.
func (s *stack) claimAndSettle(t *testing.T, id uint64, amount1, amount2 *big.Int) *big.Int {
	t.Helper()
	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	digest, err := s.oracle.StateDigest(v.ReportID)
	require.NoError(t, err)
	s.bank.Mint(reporter, v.Terms.SellToken, amount1)
	require.NoError(t, s.oracle.SubmitClaim(context.Background(), v.ReportID, amount1, amount2, digest, reporter))
	s.clock.Advance(v.Terms.Oracle.SettlementTime)
	price, err := s.oracle.Settle(context.Background(), v.ReportID, settler)
	require.NoError(t, err)
	return price
}

// totalSupply sums a token over every account that can hold it in these
// tests, including module escrows and the holding-ledger owner.
func (s *stack) totalSupply(tok common.Address, extra ...common.Address) *big.Int {
	accounts := []common.Address{
		swapper, matcher, reporter, settler, stranger,
		s.swaps.Account(), s.oracle.Account(), s.bounty.Account(),
	}
	accounts = append(accounts, extra...)
	total := new(big.Int)
	for _, a := range accounts {
		total.Add(total, s.bank.Balance(a, tok))
	}
	return total
}

func TestCreateValidation(t *testing.T) {
	s := newStack(t)
	now := s.clock.Now()

	tests := []struct {
		name   string
		mutate func(*swap.Terms)
		reason string
	}{
		{"same tokens", func(t *swap.Terms) { t.BuyToken = t.SellToken }, "sellToken = buyToken"},
		{"zero sell", func(t *swap.Terms) { t.SellAmt = big.NewInt(0) }, "zero amounts"},
		{"zero minOut", func(t *swap.Terms) { t.MinOut = big.NewInt(0) }, "zero amounts"},
		{"minOut above liquidity", func(t *swap.Terms) { t.MinOut = new(big.Int).Add(t.MinFulfillLiquidity, big.NewInt(1)) }, "liquidity bounds"},
		{"past deadline", func(t *swap.Terms) { t.Deadline = now }, "expired"},
		{"short game", func(t *swap.Terms) { t.Oracle.MaxGameTime = t.Oracle.SettlementTime * 19 }, "oracleParams"},
		{"dispute delay too long", func(t *swap.Terms) { t.Oracle.DisputeDelay = t.Oracle.SettlementTime }, "oracleParams"},
		{"fees eat everything", func(t *swap.Terms) {
			t.Oracle.SwapFee = swap.FeeScale / 2
			t.Oracle.ProtocolFee = swap.FeeScale / 2
		}, "fulfillmentFee"},
		{"fee above scale", func(t *swap.Terms) { t.FulfillFee.MaxFee = swap.FeeScale }, "fulfillFeeParams"},
		{"starting fee above max", func(t *swap.Terms) { t.FulfillFee.StartingFee = t.FulfillFee.MaxFee + 1 }, "fulfillFeeParams"},
		{"zero tolerance", func(t *swap.Terms) { t.Slippage.ToleranceRange = 0 }, "slippageParams"},
		{"bounty start above deposit", func(t *swap.Terms) { t.Bounty.BountyStartAmt = new(big.Int).Add(t.Bounty.TotalAmtDeposited, big.NewInt(1)) }, "bountyParams"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			terms := defaultTerms(now)
			tc.mutate(&terms)
			_, err := s.swaps.Create(context.Background(), terms)
			require.ErrorIs(t, err, fault.ErrInvalidInput)
			require.ErrorContains(t, err, tc.reason)
		})
	}
}

func TestCreateEscrowsAndUnwinds(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())

	// Underfunded swapper cannot create; the partial escrow is unwound.
	s.bank.Mint(swapper, sellToken, terms.SellAmt)
	_, err := s.swaps.Create(context.Background(), terms)
	require.ErrorIs(t, err, fault.ErrInvalidInput)
	require.Equal(t, terms.SellAmt, s.bank.Balance(swapper, sellToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(s.swaps.Account(), sellToken))

	s.bank.Mint(swapper, bountyToken, terms.Bounty.TotalAmtDeposited)
	s.bank.Mint(swapper, token.Native, big.NewInt(56)) // 5 gas + 50 reward + 1
	id, err := s.swaps.Create(context.Background(), terms)
	require.NoError(t, err)

	require.Equal(t, big.NewInt(0), s.bank.Balance(swapper, sellToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(swapper, bountyToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(swapper, token.Native))

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	require.True(t, v.Active)
	require.False(t, v.Matched)
}

func TestMatchChecksDigestAndDeadline(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.bank.Mint(matcher, buyToken, terms.MinFulfillLiquidity)

	err := s.swaps.Match(context.Background(), id, []byte("bogus"), matcher)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "params")

	digest, err := s.swaps.Digest(id)
	require.NoError(t, err)

	s.clock.Advance(2 * time.Hour)
	err = s.swaps.Match(context.Background(), id, digest, matcher)
	require.ErrorIs(t, err, fault.ErrTiming)
	require.ErrorContains(t, err, "expired")
}

func TestMatchFreezesFeeAndPaysGas(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)

	// Two whole rounds elapse before the match: 10000 * 1.5 * 1.5 = 22500.
	s.clock.Advance(250 * time.Second)
	s.match(t, id, terms)

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	require.True(t, v.Matched)
	require.Equal(t, uint64(22_500), v.FulfillmentFee)
	require.Equal(t, matcher, v.Matcher)
	require.NotZero(t, v.ReportID)

	require.Equal(t, big.NewInt(5), s.bank.Balance(matcher, token.Native))
	require.Equal(t, big.NewInt(0), s.bank.Balance(matcher, buyToken))

	// Second match loses: the record changed when the first one landed.
	digest, err := s.swaps.Digest(id)
	require.NoError(t, err)
	err = s.swaps.Match(context.Background(), id, digest, stranger)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "swap matched")
}

func TestSettleSuccessPaysBothSides(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)

	price := s.claimAndSettle(t, id, eth(1), eth(2000))
	want := new(big.Int).Div(new(big.Int).Mul(eth(1), oracle.PriceScale), eth(2000))
	require.Equal(t, want, price)

	// raw = 10*2000 = 20000; fee 0.1% = 20; fulfill = 19980; excess = 1020.
	require.Equal(t, eth(19980), s.bank.Balance(swapper, buyToken))
	require.Equal(t, eth(10), s.bank.Balance(matcher, sellToken))
	require.Equal(t, eth(1020), s.bank.Balance(matcher, buyToken))

	// Oracle side: settler reward, bond refund, recalled bounty.
	require.Equal(t, big.NewInt(50), s.bank.Balance(settler, token.Native))
	require.Equal(t, eth(1), s.bank.Balance(reporter, sellToken))
	require.Equal(t, big.NewInt(100), s.bank.Balance(swapper, bountyToken))

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	require.True(t, v.Finished)

	// Escrow is empty in every token that moved.
	require.Equal(t, big.NewInt(0), s.bank.Balance(s.swaps.Account(), buyToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(s.bounty.Account(), bountyToken))
}

func TestSettleOutsideSlippageRefunds(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)

	sellBefore := s.bank.Balance(swapper, sellToken)
	buyBefore := s.bank.Balance(matcher, buyToken)

	// Price lands 2x above tolerance: claim (1, 1000) instead of (1, 2000).
	s.claimAndSettle(t, id, eth(1), eth(1000))

	require.Equal(t, new(big.Int).Add(sellBefore, eth(10)), s.bank.Balance(swapper, sellToken))
	require.Equal(t, new(big.Int).Add(buyBefore, eth(21000)), s.bank.Balance(matcher, buyToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(swapper, buyToken))

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	require.True(t, v.Finished)
}

func TestSettleBelowMinOutRefunds(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	terms.MinOut = eth(20000) // above the 19980 the fee leaves
	id := s.create(t, terms)
	s.match(t, id, terms)

	s.claimAndSettle(t, id, eth(1), eth(2000))

	require.Equal(t, eth(10), s.bank.Balance(swapper, sellToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(swapper, buyToken))
	require.Equal(t, eth(21000), s.bank.Balance(matcher, buyToken))
}

func TestSettleExactlyOnce(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)
	s.claimAndSettle(t, id, eth(1), eth(2000))

	v, err := s.swaps.Get(id)
	require.NoError(t, err)

	// The report refuses to settle twice, so the callback cannot re-fire.
	_, err = s.oracle.Settle(context.Background(), v.ReportID, settler)
	require.ErrorIs(t, err, fault.ErrStateConflict)

	// And a finished swap refuses a bailout.
	err = s.swaps.BailOut(context.Background(), id)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "finished")
}

func TestCancelRefundsEverything(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)

	err := s.swaps.Cancel(context.Background(), id, stranger)
	require.ErrorIs(t, err, fault.ErrAccessControl)
	require.ErrorContains(t, err, "not swapper")

	require.NoError(t, s.swaps.Cancel(context.Background(), id, swapper))
	require.Equal(t, eth(10), s.bank.Balance(swapper, sellToken))
	require.Equal(t, big.NewInt(100), s.bank.Balance(swapper, bountyToken))
	require.Equal(t, big.NewInt(56), s.bank.Balance(swapper, token.Native))

	err = s.swaps.Cancel(context.Background(), id, swapper)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "cancelled")

	// A cancelled swap cannot be matched.
	s.bank.Mint(matcher, buyToken, terms.MinFulfillLiquidity)
	digest, err := s.swaps.Digest(id)
	require.NoError(t, err)
	err = s.swaps.Match(context.Background(), id, digest, matcher)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "swap cancelled")
}

func TestCancelAfterMatchRejected(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)

	err := s.swaps.Cancel(context.Background(), id, swapper)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "already matched")
}

func TestBailOutGating(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)

	err := s.swaps.BailOut(context.Background(), id)
	require.ErrorIs(t, err, fault.ErrStateConflict)
	require.ErrorContains(t, err, "not matched")

	s.match(t, id, terms)

	// Exactly at the latency bound: not yet. Strictly after: eligible.
	s.clock.Advance(terms.Oracle.LatencyBailout)
	err = s.swaps.BailOut(context.Background(), id)
	require.ErrorIs(t, err, fault.ErrTiming)
	require.ErrorContains(t, err, "can't bail out yet")

	s.clock.Advance(time.Second)
	require.NoError(t, s.swaps.BailOut(context.Background(), id))

	require.Equal(t, eth(10), s.bank.Balance(swapper, sellToken))
	require.Equal(t, eth(21000), s.bank.Balance(matcher, buyToken))
	require.Equal(t, big.NewInt(100), s.bank.Balance(swapper, bountyToken))
}

func TestBailOutBlockedByLiveClaim(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	digest, err := s.oracle.StateDigest(v.ReportID)
	require.NoError(t, err)
	s.bank.Mint(reporter, sellToken, eth(1))
	require.NoError(t, s.oracle.SubmitClaim(context.Background(), v.ReportID, eth(1), eth(2000), digest, reporter))

	// A claim exists, so the latency escape is closed until maxGameTime.
	s.clock.Advance(terms.Oracle.LatencyBailout + time.Second)
	err = s.swaps.BailOut(context.Background(), id)
	require.ErrorIs(t, err, fault.ErrTiming)

	s.clock.Advance(terms.Oracle.MaxGameTime)
	require.NoError(t, s.swaps.BailOut(context.Background(), id))
}

func TestMisbehavingTokenDivertsToHoldingLedger(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)

	// The buy token starts rejecting transfers to the swapper mid-game.
	s.bank.SetGuard(buyToken, func(from, to common.Address, amount *big.Int) error {
		if to == swapper {
			return fmt.Errorf("recipient blocklisted")
		}
		return nil
	})

	s.claimAndSettle(t, id, eth(1), eth(2000))

	// The swap still finished; the swapper's fulfillment sits in the ledger.
	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	require.True(t, v.Finished)
	require.Equal(t, big.NewInt(0), s.bank.Balance(swapper, buyToken))
	require.Equal(t, eth(19980), s.swaps.Holding(buyToken, swapper))

	// Withdraw fails while the guard stands and pays once it lifts.
	_, err = s.swaps.WithdrawHolding(context.Background(), buyToken, swapper)
	require.Error(t, err)
	require.Equal(t, eth(19980), s.swaps.Holding(buyToken, swapper))

	s.bank.SetGuard(buyToken, nil)
	got, err := s.swaps.WithdrawHolding(context.Background(), buyToken, swapper)
	require.NoError(t, err)
	require.Equal(t, eth(19980), got)
	require.Equal(t, eth(19980), s.bank.Balance(swapper, buyToken))

	// Flushed means flushed: a second withdrawal pays nothing.
	got, err = s.swaps.WithdrawHolding(context.Background(), buyToken, swapper)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), got)
}

func TestProtocolFeesAccrueAndSplit(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	terms.Oracle.SwapFee = swap.FeeScale / 10     // 10% of the fulfillment fee
	terms.Oracle.ProtocolFee = swap.FeeScale / 10 // 10% of the final bond
	id := s.create(t, terms)
	s.match(t, id, terms)

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	receiver := v.FeeRecipient
	require.NotEqual(t, s.swaps.Account(), receiver)

	s.claimAndSettle(t, id, eth(1), eth(2000))

	// feeAmt = 20; swap-fee cut = 2 to the receiver; matcher excess drops by
	// the same 2. The oracle skims 10% of the 1-unit bond as well.
	require.Equal(t, eth(19980), s.bank.Balance(swapper, buyToken))
	require.Equal(t, eth(1018), s.bank.Balance(matcher, buyToken))
	require.Equal(t, eth(2), s.bank.Balance(receiver, buyToken))
	bondSkim := new(big.Int).Div(eth(1), big.NewInt(10))
	require.Equal(t, bondSkim, s.bank.Balance(receiver, sellToken))

	require.NoError(t, s.swaps.GrabFees(context.Background(), id))

	// 50/50 split per token. The swapper spent their whole sell amount at
	// create, so any sell-token balance now is their half of the bond skim.
	require.Equal(t, eth(19981), s.bank.Balance(swapper, buyToken))
	require.Equal(t, eth(1019), s.bank.Balance(matcher, buyToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(receiver, buyToken))
	halfSkim := new(big.Int).Rsh(bondSkim, 1)
	require.Equal(t, halfSkim, s.bank.Balance(swapper, sellToken))
	wantMatcher := new(big.Int).Add(eth(10), new(big.Int).Sub(bondSkim, halfSkim))
	require.Equal(t, wantMatcher, s.bank.Balance(matcher, sellToken))

	// Repeatable and empty-safe.
	require.NoError(t, s.swaps.GrabFees(context.Background(), id))
	require.Equal(t, big.NewInt(0), s.bank.Balance(receiver, sellToken))
}

func TestSwapFeeClampedToMatcherExcess(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	terms.Oracle.SwapFee = swap.FeeScale / 10
	terms.Oracle.ProtocolFee = swap.FeeScale / 10
	id := s.create(t, terms)
	s.match(t, id, terms)

	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	receiver := v.FeeRecipient

	// A claim of (1, 2102) lands the fulfillment just under the escrowed
	// liquidity, leaving the matcher a remainder smaller than the 10% cut
	// of the fulfillment fee.
	price := s.claimAndSettle(t, id, eth(1), eth(2102))
	raw := new(big.Int).Div(new(big.Int).Mul(eth(10), oracle.PriceScale), price)
	feeAmt := new(big.Int).Div(new(big.Int).Mul(raw, big.NewInt(10_000)), big.NewInt(swap.FeeScale))
	fulfill := new(big.Int).Sub(raw, feeAmt)
	remainder := new(big.Int).Sub(eth(21000), fulfill)
	cut := new(big.Int).Div(feeAmt, big.NewInt(10))
	require.Positive(t, remainder.Sign())
	require.Positive(t, cut.Cmp(remainder))

	// The cut caps at the remainder. Nothing is disbursed beyond the
	// escrowed liquidity, nothing lands in the holding ledger, and the
	// matcher's excess is simply zero.
	require.Equal(t, fulfill, s.bank.Balance(swapper, buyToken))
	require.Equal(t, remainder, s.bank.Balance(receiver, buyToken))
	require.Equal(t, big.NewInt(0), s.bank.Balance(matcher, buyToken))
	require.Equal(t, big.NewInt(0), s.swaps.Holding(buyToken, receiver))
	require.Equal(t, big.NewInt(0), s.bank.Balance(s.swaps.Account(), buyToken))
}

func TestTokenConservation(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	terms.Oracle.SwapFee = swap.FeeScale / 10
	terms.Oracle.ProtocolFee = swap.FeeScale / 10

	id := s.create(t, terms)
	s.match(t, id, terms)
	v, err := s.swaps.Get(id)
	require.NoError(t, err)
	receiver := v.FeeRecipient

	before := map[common.Address]*big.Int{
		sellToken:    s.totalSupply(sellToken, receiver),
		buyToken:     s.totalSupply(buyToken, receiver),
		bountyToken:  s.totalSupply(bountyToken, receiver),
		token.Native: s.totalSupply(token.Native, receiver),
	}

	s.clock.Advance(30 * time.Second)
	digest, err := s.oracle.StateDigest(v.ReportID)
	require.NoError(t, err)
	s.bank.Mint(reporter, sellToken, eth(1))
	before[sellToken].Add(before[sellToken], eth(1))
	require.NoError(t, s.oracle.SubmitClaim(context.Background(), v.ReportID, eth(1), eth(2000), digest, reporter))
	s.clock.Advance(terms.Oracle.SettlementTime)
	_, err = s.oracle.Settle(context.Background(), v.ReportID, settler)
	require.NoError(t, err)
	require.NoError(t, s.swaps.GrabFees(context.Background(), id))

	for tok, want := range before {
		require.Equal(t, want, s.totalSupply(tok, receiver), "token %s", tok.Hex())
	}
}

func TestUnrelatedDepositsStayUntouched(t *testing.T) {
	s := newStack(t)
	terms := defaultTerms(s.clock.Now())
	id := s.create(t, terms)
	s.match(t, id, terms)

	// Balances the engine escrow holds for nobody in particular. No swap
	// may ever read or spend them.
	seed := eth(777)
	s.bank.Mint(s.swaps.Account(), sellToken, seed)
	s.bank.Mint(s.swaps.Account(), buyToken, seed)
	s.bank.Mint(s.swaps.Account(), bountyToken, seed)
	s.bank.Mint(s.swaps.Account(), token.Native, seed)

	s.claimAndSettle(t, id, eth(1), eth(2000))

	for _, tok := range []common.Address{sellToken, buyToken, bountyToken, token.Native} {
		require.Equal(t, seed, s.bank.Balance(s.swaps.Account(), tok), "token %s", tok.Hex())
	}

	// A cancelled swap refunds only its own escrow too.
	terms2 := defaultTerms(s.clock.Now())
	id2 := s.create(t, terms2)
	require.NoError(t, s.swaps.Cancel(context.Background(), id2, swapper))

	for _, tok := range []common.Address{sellToken, buyToken, bountyToken, token.Native} {
		require.Equal(t, seed, s.bank.Balance(s.swaps.Account(), tok), "token %s", tok.Hex())
	}
}

func TestGetAndDigestUnknownSwap(t *testing.T) {
	s := newStack(t)
	_, err := s.swaps.Get(42)
	require.ErrorIs(t, err, fault.ErrInvalidInput)
	_, err = s.swaps.Digest(42)
	require.ErrorIs(t, err, fault.ErrInvalidInput)
	err = s.swaps.BailOut(context.Background(), 42)
	require.ErrorIs(t, err, fault.ErrInvalidInput)
}
