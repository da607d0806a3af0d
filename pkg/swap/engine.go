// Package swap implements the escrowed two-party exchange engine. A swapper
// escrows the sell side; a matcher escrows the buy-side liquidity; a price
// report resolves the exchange rate; a single settlement callback computes
// the fee- and slippage-adjusted fulfillment and pays both parties, with
// refund, bailout and holding-ledger fallbacks so funds are never
// strandable.
package swap

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/claimswap/claimswap/pkg/chainclock"
	"github.com/claimswap/claimswap/pkg/events"
	"github.com/claimswap/claimswap/pkg/fault"
	"github.com/claimswap/claimswap/pkg/fees"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/token"
)

type holdKey struct {
	Account common.Address
	Token   common.Address
}

// Engine owns the swap arena and is the oracle's settlement consumer.
type Engine struct {
	logger  *zap.Logger
	bank    *token.Bank
	clock   chainclock.Clock
	bus     *events.Bus
	oracle  *oracle.Engine
	bounty  BountyService
	rebate  RebateHook
	account common.Address

	swaps    *xsync.Map[uint64, *Swap]
	byReport *xsync.Map[uint64, uint64]
	nextID   atomic.Uint64

	holdMu  sync.Mutex
	holding map[holdKey]*big.Int
}

func NewEngine(logger *zap.Logger, bank *token.Bank, clock chainclock.Clock, bus *events.Bus, orc *oracle.Engine, bounty BountyService) *Engine {
	return &Engine{
		logger:   logger.Named("swap"),
		bank:     bank,
		clock:    clock,
		bus:      bus,
		oracle:   orc,
		bounty:   bounty,
		account:  token.ModuleAddress("swap-engine"),
		swaps:    xsync.NewMap[uint64, *Swap](),
		byReport: xsync.NewMap[uint64, uint64](),
		holding:  make(map[holdKey]*big.Int),
	}
}

// SetRebateHook registers the optional external rebate consumer.
func (e *Engine) SetRebateHook(h RebateHook) { e.rebate = h }

// Account is the engine's escrow address on the bank.
func (e *Engine) Account() common.Address { return e.account }

// Create validates the terms and escrows the swapper's side: the sell
// amount, the bounty deposit, and gasCompensation + settlerReward + 1
// native units.
func (e *Engine) Create(ctx context.Context, t Terms) (uint64, error) {
	now := e.clock.Now()
	if err := t.validate(now); err != nil {
		return 0, err
	}

	if err := e.bank.Transfer(t.Swapper, e.account, t.SellToken, t.SellAmt); err != nil {
		return 0, fault.Invalid("sell escrow")
	}
	if err := e.bank.Transfer(t.Swapper, e.account, t.Bounty.BountyToken, t.Bounty.TotalAmtDeposited); err != nil {
		e.refundOrHold(t.Swapper, t.SellToken, t.SellAmt, "create unwind")
		return 0, fault.Invalid("bounty deposit")
	}
	extras := e.nativeExtras(&t)
	if err := e.bank.Transfer(t.Swapper, e.account, token.Native, extras); err != nil {
		e.refundOrHold(t.Swapper, t.SellToken, t.SellAmt, "create unwind")
		e.refundOrHold(t.Swapper, t.Bounty.BountyToken, t.Bounty.TotalAmtDeposited, "create unwind")
		return 0, fault.Invalid("native escrow")
	}

	id := e.nextID.Add(1)
	s := &Swap{
		ID:        id,
		Terms:     t.clone(),
		CreatedAt: now,
		Active:    true,
	}
	e.swaps.Store(id, s)

	e.logger.Info("Swap created",
		zap.Uint64("swapId", id),
		zap.String("swapper", t.Swapper.Hex()),
		zap.String("sellToken", t.SellToken.Hex()),
		zap.String("sellAmt", t.SellAmt.String()),
		zap.String("buyToken", t.BuyToken.Hex()))
	e.bus.Publish(ctx, events.Event{Type: events.TypeSwapCreated, SwapID: id, At: now})
	return id, nil
}

// nativeExtras is the native-currency escrow beyond the sell amount:
// gas compensation for the matcher plus the oracle's settlerReward+1.
func (e *Engine) nativeExtras(t *Terms) *big.Int {
	extras := new(big.Int).Add(t.GasCompensation, t.Oracle.SettlerReward)
	return extras.Add(extras, big.NewInt(1))
}

// Digest returns the optimistic-lock digest of the swap's mutable record.
func (e *Engine) Digest(swapID uint64) ([]byte, error) {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return nil, fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest(), nil
}

// Get returns a snapshot of the swap.
func (e *Engine) Get(swapID uint64) (View, error) {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return View{}, fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

// Match locks the matcher in: the matcher deposits exactly
// minFulfillLiquidity of the buy token, is paid gasCompensation from
// escrow, the fulfillment fee freezes, and the oracle report plus the
// bounty open against the engine's escrow.
func (e *Engine) Match(ctx context.Context, swapID uint64, expectedDigest []byte, matcher common.Address) error {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.clock.Now()
	switch {
	case s.Cancelled:
		return fault.Conflict("swap cancelled")
	case s.Matched:
		return fault.Conflict("swap matched")
	case !s.Active:
		return fault.Conflict("swap not active")
	case now.After(s.Terms.Deadline):
		return fault.Timing("expired")
	}
	if string(expectedDigest) != string(s.digest()) {
		return fault.Conflict("params")
	}

	if err := e.bank.Transfer(matcher, e.account, s.Terms.BuyToken, s.Terms.MinFulfillLiquidity); err != nil {
		return fault.Invalid("fulfill liquidity escrow")
	}
	fee := s.Terms.FulfillFee.StartingFee
	if fixedFee(s.Terms.FulfillFee) {
		e.bus.Publish(ctx, events.Event{Type: events.TypeSwapFeeFixed, SwapID: s.ID, At: now})
	} else {
		fee = fulfillmentFee(s.Terms.FulfillFee, now.Sub(s.CreatedAt))
	}

	feeRecipient := e.account
	if s.Terms.Oracle.ProtocolFee > 0 {
		s.receiver = fees.NewReceiver(e.bank, e.account, s.ID)
		feeRecipient = s.receiver.Account()
	}

	payment := new(big.Int).Add(s.Terms.Oracle.SettlerReward, big.NewInt(1))
	reportID, err := e.oracle.CreateReport(ctx, oracle.Params{
		Token1:            s.Terms.SellToken,
		Token2:            s.Terms.BuyToken,
		ExactToken1Amount: s.Terms.Oracle.InitialLiquidity,
		SettlementTime:    s.Terms.Oracle.SettlementTime,
		DisputeDelay:      s.Terms.Oracle.DisputeDelay,
		EscalationHalt:    s.Terms.Oracle.EscalationHalt,
		Multiplier:        s.Terms.Oracle.Multiplier,
		TimeType:          s.Terms.Oracle.TimeType,
		BlocksPerSecond:   s.Terms.Oracle.BlocksPerSecond,
		SettlerReward:     s.Terms.Oracle.SettlerReward,
		FeePercentage:     s.Terms.Oracle.ProtocolFee,
		FeeRecipient:      feeRecipient,
		Creator:           s.Terms.Swapper,
	}, e.account, payment, &settleCallback{eng: e, swapID: s.ID})
	if err != nil {
		// Unwind the matcher before surfacing the rejection.
		e.pay(matcher, s.Terms.BuyToken, s.Terms.MinFulfillLiquidity, "match unwind")
		return err
	}

	if err := e.bounty.FundClaim(ctx, BountyFund{
		ReportID:         reportID,
		StartAmt:         s.Terms.Bounty.BountyStartAmt,
		Creator:          s.Terms.Swapper,
		Editor:           matcher,
		Multiplier:       s.Terms.Bounty.BountyMultiplier,
		MaxRounds:        s.Terms.Bounty.MaxRounds,
		TimeType:         s.Terms.Oracle.TimeType,
		ForwardStartTime: now,
		Token:            s.Terms.Bounty.BountyToken,
		MaxAmount:        s.Terms.Bounty.TotalAmtDeposited,
		RoundLength:      s.Terms.Bounty.RoundLength,
		Funder:           e.account,
	}); err != nil {
		// The game proceeds without a bounty; the deposit goes straight back
		// to the swapper rather than sitting in escrow unrecallable.
		e.logger.Warn("Bounty funding failed",
			zap.Uint64("swapId", s.ID),
			zap.Uint64("reportId", reportID),
			zap.Error(err))
		e.pay(s.Terms.Swapper, s.Terms.Bounty.BountyToken, s.Terms.Bounty.TotalAmtDeposited, "bounty refund")
	}

	// Gas compensation leaves escrow once the match is committed; it is the
	// matcher's even if settlement later refunds.
	e.pay(matcher, token.Native, s.Terms.GasCompensation, "gas compensation")

	s.Matcher = matcher
	s.FulfillmentFee = fee
	s.ReportID = reportID
	s.FeeRecipient = feeRecipient
	s.Start = now
	s.Matched = true
	e.byReport.Store(reportID, s.ID)

	e.logger.Info("Swap matched",
		zap.Uint64("swapId", s.ID),
		zap.Uint64("reportId", reportID),
		zap.String("matcher", matcher.Hex()),
		zap.Uint64("fulfillmentFee", fee))
	e.bus.Publish(ctx, events.Event{Type: events.TypeSwapMatched, SwapID: s.ID, ReportID: reportID, At: now,
		Payload: map[string]any{"fulfillmentFee": fee}})
	return nil
}

// settleCallback binds one swap to its oracle report. Only the oracle holds
// a reference, which is the origin check: nothing else can deliver a
// settlement.
type settleCallback struct {
	eng    *Engine
	swapID uint64
}

func (c *settleCallback) OnSettle(reportID uint64, price *big.Int, settledAt time.Time, token1, token2 common.Address) error {
	return c.eng.onSettle(c.swapID, reportID, price)
}

// onSettle is the single settlement path: it computes the fulfillment
// amount, checks the slippage and liquidity bounds, and pays out the
// success or refund branch. Either branch finishes the swap.
func (e *Engine) onSettle(swapID, reportID uint64, price *big.Int) error {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Matched || s.ReportID != reportID {
		return fault.Access("wrong reportId")
	}
	if s.Finished {
		return fault.Conflict("finished")
	}

	// fulfillAmt = sellAmt × amount2/amount1, i.e. sellAmt·10^18/price,
	// then the frozen fulfillment fee comes off.
	raw := new(big.Int).Mul(s.Terms.SellAmt, oracle.PriceScale)
	raw.Div(raw, price)
	feeAmt := new(big.Int).Mul(raw, new(big.Int).SetUint64(s.FulfillmentFee))
	feeAmt.Div(feeAmt, big.NewInt(FeeScale))
	fulfill := new(big.Int).Sub(raw, feeAmt)

	ok = e.withinSlippage(s, price) &&
		fulfill.Cmp(s.Terms.MinOut) >= 0 &&
		fulfill.Cmp(s.Terms.MinFulfillLiquidity) <= 0

	now := e.clock.Now()
	s.Finished = true

	if !ok {
		e.refund(s)
		e.logger.Info("Swap settled with refund",
			zap.Uint64("swapId", s.ID),
			zap.String("price", price.String()),
			zap.String("fulfillAmt", fulfill.String()))
		e.bus.Publish(context.Background(), events.Event{Type: events.TypeSwapRefunded, SwapID: s.ID, ReportID: reportID, At: now})
		return nil
	}

	// The protocol's cut of the fulfillment fee accrues to the swap's fee
	// receiver; the rest of the fee stays inside the matcher's excess. The
	// skim can never exceed the matcher's remainder, or the branch would
	// disburse more buy token than this swap escrowed.
	excess := new(big.Int).Sub(s.Terms.MinFulfillLiquidity, fulfill)
	skim := new(big.Int)
	if s.receiver != nil && s.Terms.Oracle.SwapFee > 0 {
		skim.Mul(feeAmt, new(big.Int).SetUint64(s.Terms.Oracle.SwapFee))
		skim.Div(skim, big.NewInt(FeeScale))
		if skim.Cmp(excess) > 0 {
			skim.Set(excess)
		}
	}
	excess.Sub(excess, skim)

	e.pay(s.Matcher, s.Terms.SellToken, s.Terms.SellAmt, "matcher fulfillment")
	e.pay(s.Terms.Swapper, s.Terms.BuyToken, fulfill, "swapper fulfillment")
	e.pay(s.Matcher, s.Terms.BuyToken, excess, "matcher excess")
	if skim.Sign() > 0 {
		e.pay(s.receiver.Account(), s.Terms.BuyToken, skim, "swap fee")
	}
	e.recallBounty(s)

	if e.rebate != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					e.logger.Warn("Rebate hook panicked", zap.Uint64("swapId", s.ID), zap.Any("panic", rec))
				}
			}()
			if err := e.rebate.OnFulfill(s.ID, s.Terms.Swapper, s.Matcher, fulfill); err != nil {
				e.logger.Warn("Rebate hook failed", zap.Uint64("swapId", s.ID), zap.Error(err))
			}
		}()
	}

	e.logger.Info("Swap settled",
		zap.Uint64("swapId", s.ID),
		zap.String("price", price.String()),
		zap.String("fulfillAmt", fulfill.String()))
	e.bus.Publish(context.Background(), events.Event{Type: events.TypeSwapSettled, SwapID: s.ID, ReportID: reportID, At: now,
		Payload: map[string]any{"fulfillAmt": fulfill.String()}})
	return nil
}

func (e *Engine) withinSlippage(s *Swap, price *big.Int) bool {
	diff := new(big.Int).Sub(price, s.Terms.Slippage.PriceTolerated)
	diff.Abs(diff)
	bound := new(big.Int).Mul(s.Terms.Slippage.PriceTolerated, new(big.Int).SetUint64(s.Terms.Slippage.ToleranceRange))
	bound.Div(bound, big.NewInt(FeeScale))
	return diff.Cmp(bound) <= 0
}

// refund returns both deposits in full. Caller holds the swap mutex and has
// already set Finished.
func (e *Engine) refund(s *Swap) {
	e.pay(s.Terms.Swapper, s.Terms.SellToken, s.Terms.SellAmt, "swapper refund")
	e.pay(s.Matcher, s.Terms.BuyToken, s.Terms.MinFulfillLiquidity, "matcher refund")
	e.recallBounty(s)
}

func (e *Engine) recallBounty(s *Swap) {
	if _, err := e.bounty.RecallBounty(context.Background(), s.ReportID); err != nil {
		e.logger.Warn("Bounty recall failed",
			zap.Uint64("swapId", s.ID),
			zap.Uint64("reportId", s.ReportID),
			zap.Error(err))
	}
}

// Cancel returns every escrowed asset to the swapper. Swapper-only,
// pre-match only.
func (e *Engine) Cancel(ctx context.Context, swapID uint64, caller common.Address) error {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.Terms.Swapper {
		return fault.Access("not swapper")
	}
	if s.Matched {
		return fault.Conflict("already matched")
	}
	if s.Cancelled {
		return fault.Conflict("cancelled")
	}

	e.pay(s.Terms.Swapper, s.Terms.SellToken, s.Terms.SellAmt, "cancel refund")
	e.pay(s.Terms.Swapper, s.Terms.Bounty.BountyToken, s.Terms.Bounty.TotalAmtDeposited, "cancel refund")
	e.pay(s.Terms.Swapper, token.Native, e.nativeExtras(&s.Terms), "cancel refund")
	s.Cancelled = true
	s.Active = false

	now := e.clock.Now()
	e.logger.Info("Swap cancelled", zap.Uint64("swapId", s.ID))
	e.bus.Publish(ctx, events.Event{Type: events.TypeSwapCancelled, SwapID: s.ID, At: now})
	return nil
}

// BailOut is the permissionless escape hatch: it refunds both parties when
// the oracle never got a claim in time, the game ran past its maximum, or
// the report settled but the callback failed to finish the swap.
func (e *Engine) BailOut(ctx context.Context, swapID uint64) error {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Matched {
		return fault.Conflict("not matched")
	}
	if s.Finished {
		return fault.Conflict("finished")
	}

	now := e.clock.Now()
	st, err := e.oracle.ReportStatus(s.ReportID)
	if err != nil {
		return err
	}
	noClaim := st.Amount2 == nil || st.Amount2.Sign() == 0
	eligible := (noClaim && now.After(s.Start.Add(s.Terms.Oracle.LatencyBailout))) ||
		now.After(s.Start.Add(s.Terms.Oracle.MaxGameTime)) ||
		st.Distributed
	if !eligible {
		return fault.Timing("can't bail out yet")
	}

	s.Finished = true
	e.refund(s)

	e.logger.Info("Swap bailed out",
		zap.Uint64("swapId", s.ID),
		zap.Uint64("reportId", s.ReportID),
		zap.Bool("noClaim", noClaim))
	e.bus.Publish(ctx, events.Event{Type: events.TypeSwapBailout, SwapID: s.ID, ReportID: s.ReportID, At: now})
	return nil
}

// GrabFees sweeps the swap's fee receiver and splits the take 50/50, odd
// unit to the matcher. Permissionless and repeatable; fees can accrue
// incrementally before the report settles.
func (e *Engine) GrabFees(ctx context.Context, swapID uint64) error {
	s, ok := e.swaps.Load(swapID)
	if !ok {
		return fault.Invalid("unknown swap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receiver == nil {
		return nil
	}
	grabbed := false
	for _, tok := range []common.Address{s.Terms.SellToken, s.Terms.BuyToken, token.Native} {
		swept, err := s.receiver.Sweep(tok)
		if err != nil {
			e.logger.Warn("Fee sweep failed",
				zap.Uint64("swapId", s.ID),
				zap.String("token", tok.Hex()),
				zap.Error(err))
			continue
		}
		if swept.Sign() == 0 {
			continue
		}
		half := new(big.Int).Rsh(swept, 1)
		rest := new(big.Int).Sub(swept, half)
		e.pay(s.Terms.Swapper, tok, half, "fee split")
		e.pay(s.Matcher, tok, rest, "fee split")
		grabbed = true
	}
	if grabbed {
		e.bus.Publish(ctx, events.Event{Type: events.TypeSwapFees, SwapID: s.ID, At: e.clock.Now()})
	}
	return nil
}

// pay transfers from engine escrow with the holding-ledger fallback: a
// transfer that cannot complete is credited to (recipient, token) instead
// of aborting the settlement it belongs to.
func (e *Engine) pay(to common.Address, tok common.Address, amount *big.Int, what string) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	if err := e.bank.Transfer(e.account, to, tok, amount); err != nil {
		e.logger.Warn("Payout redirected to holding ledger",
			zap.String("payout", what),
			zap.String("to", to.Hex()),
			zap.String("token", tok.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		e.credit(to, tok, amount)
	}
}

func (e *Engine) refundOrHold(to common.Address, tok common.Address, amount *big.Int, what string) {
	e.pay(to, tok, amount, what)
}

func (e *Engine) credit(to common.Address, tok common.Address, amount *big.Int) {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	k := holdKey{Account: to, Token: tok}
	bal, ok := e.holding[k]
	if !ok {
		bal = new(big.Int)
		e.holding[k] = bal
	}
	bal.Add(bal, amount)
}

// Holding returns the holding-ledger balance for (account, token).
func (e *Engine) Holding(tok common.Address, account common.Address) *big.Int {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	if bal, ok := e.holding[holdKey{Account: account, Token: tok}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// WithdrawHolding flushes the holding-ledger entry for (account, token) to
// the account. No-op at zero; never double-pays.
func (e *Engine) WithdrawHolding(ctx context.Context, tok common.Address, account common.Address) (*big.Int, error) {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	k := holdKey{Account: account, Token: tok}
	bal, ok := e.holding[k]
	if !ok || bal.Sign() == 0 {
		return new(big.Int), nil
	}
	amount := new(big.Int).Set(bal)
	if err := e.bank.Transfer(e.account, account, tok, amount); err != nil {
		return nil, err
	}
	delete(e.holding, k)
	e.logger.Info("Holding withdrawn",
		zap.String("account", account.Hex()),
		zap.String("token", tok.Hex()),
		zap.String("amount", amount.String()))
	return amount, nil
}

// Range visits every swap's snapshot until fn returns false.
func (e *Engine) Range(fn func(v View) bool) {
	e.swaps.Range(func(id uint64, s *Swap) bool {
		s.mu.Lock()
		v := s.view()
		s.mu.Unlock()
		return fn(v)
	})
}
