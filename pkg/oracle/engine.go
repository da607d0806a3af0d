// Package oracle implements the bonded price-claim engine. A report is
// opened with a fixed token1 amount; reporters post escalating bonds to
// claim or dispute the price until the dispute window lapses, after which
// anyone may settle the report and trigger the registered callback.
package oracle

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/claimswap/claimswap/pkg/chainclock"
	"github.com/claimswap/claimswap/pkg/events"
	"github.com/claimswap/claimswap/pkg/fault"
	"github.com/claimswap/claimswap/pkg/token"
)

// Engine owns the report arena. Reports are only ever mutated through the
// engine's entry points, each of which holds the report mutex end to end.
type Engine struct {
	logger  *zap.Logger
	bank    *token.Bank
	clock   chainclock.Clock
	bus     *events.Bus
	account common.Address

	reports *xsync.Map[uint64, *Report]
	nextID  atomic.Uint64
}

func NewEngine(logger *zap.Logger, bank *token.Bank, clock chainclock.Clock, bus *events.Bus) *Engine {
	return &Engine{
		logger:  logger.Named("oracle"),
		bank:    bank,
		clock:   clock,
		bus:     bus,
		account: token.ModuleAddress("oracle-engine"),
		reports: xsync.NewMap[uint64, *Report](),
	}
}

// Account is the engine's escrow address on the bank.
func (e *Engine) Account() common.Address { return e.account }

// CreateReport opens a new report. The payer must pay exactly
// settlerReward+1 native units up front; the reward is handed to whoever
// settles, the single extra unit goes to the fee recipient.
func (e *Engine) CreateReport(ctx context.Context, p Params, payer common.Address, payment *big.Int, consumer Consumer) (uint64, error) {
	if err := validateParams(p); err != nil {
		return 0, err
	}
	required := new(big.Int).Add(p.SettlerReward, big.NewInt(1))
	if payment == nil || payment.Cmp(required) != 0 {
		return 0, fault.Invalid("settler reward payment")
	}
	if err := e.bank.Transfer(payer, e.account, token.Native, payment); err != nil {
		return 0, fault.Invalid("settler reward payment")
	}

	id := e.nextID.Add(1)
	now := e.clock.Now()
	r := &Report{
		ID:               id,
		Params:           cloneParams(p),
		LastUpdate:       now,
		LastUpdateHeight: e.clock.Height(),
		consumer:         consumer,
	}
	e.reports.Store(id, r)

	e.logger.Info("Report created",
		zap.Uint64("reportId", id),
		zap.String("token1", p.Token1.Hex()),
		zap.String("token2", p.Token2.Hex()),
		zap.String("exactToken1Amount", p.ExactToken1Amount.String()))
	e.bus.Publish(ctx, events.Event{Type: events.TypeReportCreated, ReportID: id, At: now})
	return id, nil
}

func validateParams(p Params) error {
	switch {
	case p.Token1 == p.Token2:
		return fault.Invalid("token1 = token2")
	case p.ExactToken1Amount == nil || p.ExactToken1Amount.Sign() <= 0:
		return fault.Invalid("zero amounts")
	case p.SettlementTime <= 0 || p.DisputeDelay <= 0 || p.DisputeDelay >= p.SettlementTime:
		return fault.Invalid("oracleParams")
	case p.EscalationHalt == nil || p.EscalationHalt.Cmp(p.ExactToken1Amount) < 0:
		return fault.Invalid("oracleParams")
	case p.Multiplier < GrowthScale:
		return fault.Invalid("oracleParams")
	case p.BlocksPerSecond == 0:
		return fault.Invalid("oracleParams")
	case p.SettlerReward == nil || p.SettlerReward.Sign() < 0:
		return fault.Invalid("oracleParams")
	case p.FeePercentage >= FeeScale:
		return fault.Invalid("oracleParams")
	}
	return nil
}

func cloneParams(p Params) Params {
	p.ExactToken1Amount = new(big.Int).Set(p.ExactToken1Amount)
	p.EscalationHalt = new(big.Int).Set(p.EscalationHalt)
	p.SettlerReward = new(big.Int).Set(p.SettlerReward)
	return p
}

// StateDigest returns the digest a claim must present to prove it was
// computed against the report's current state.
func (e *Engine) StateDigest(reportID uint64) ([]byte, error) {
	r, ok := e.reports.Load(reportID)
	if !ok {
		return nil, fault.Invalid("unknown report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.digest(), nil
}

// ReportMeta returns the immutable configuration of a report.
func (e *Engine) ReportMeta(reportID uint64) (Meta, error) {
	r, ok := e.reports.Load(reportID)
	if !ok {
		return Meta{}, fault.Invalid("unknown report")
	}
	return Meta{ID: r.ID, Params: cloneParams(r.Params)}, nil
}

// ReportStatus returns a snapshot of the mutable claim state.
func (e *Engine) ReportStatus(reportID uint64) (Status, error) {
	r, ok := e.reports.Load(reportID)
	if !ok {
		return Status{}, fault.Invalid("unknown report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status(), nil
}

// SubmitClaim records the first claim or escalates an existing one. The
// claimant bonds token1: exactToken1Amount for the first claim, the
// multiplier-grown bond for each dispute. The outbid claimant is refunded
// in the same operation.
func (e *Engine) SubmitClaim(ctx context.Context, reportID uint64, amount1, amount2 *big.Int, priorDigest []byte, claimant common.Address) error {
	r, ok := e.reports.Load(reportID)
	if !ok {
		return fault.Invalid("unknown report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Distributed {
		return fault.Conflict("settled")
	}
	if string(priorDigest) != string(r.digest()) {
		return fault.Conflict("stale digest")
	}
	if amount1 == nil || amount1.Cmp(r.Params.ExactToken1Amount) != 0 {
		return fault.Invalid("exact amount")
	}
	if amount2 == nil || amount2.Sign() <= 0 {
		return fault.Invalid("zero amounts")
	}

	now := e.clock.Now()
	evType := events.TypeReportClaimed
	if !r.hasClaim() {
		bond := new(big.Int).Set(r.Params.ExactToken1Amount)
		if err := e.bank.Transfer(claimant, e.account, r.Params.Token1, bond); err != nil {
			return fault.Invalid("bond escrow")
		}
		r.Bond = bond
	} else {
		if e.elapsedSeconds(r) > int64(r.Params.DisputeDelay/time.Second) {
			return fault.Timing("dispute window closed")
		}
		required := new(big.Int).Mul(r.Bond, new(big.Int).SetUint64(r.Params.Multiplier))
		required.Div(required, big.NewInt(GrowthScale))
		if required.Cmp(r.Params.EscalationHalt) > 0 {
			return fault.Invalid("escalation halted")
		}
		if err := e.bank.Transfer(claimant, e.account, r.Params.Token1, required); err != nil {
			return fault.Invalid("bond escrow")
		}
		if err := e.bank.Transfer(e.account, r.Claimant, r.Params.Token1, r.Bond); err != nil {
			// An unreturnable bond stays in escrow; it does not block the dispute.
			e.logger.Warn("Outbid bond refund failed",
				zap.Uint64("reportId", r.ID),
				zap.String("claimant", r.Claimant.Hex()),
				zap.Error(err))
		}
		r.Bond = required
		r.Rounds++
		evType = events.TypeReportDisputed
	}

	r.Amount1 = new(big.Int).Set(amount1)
	r.Amount2 = new(big.Int).Set(amount2)
	r.Claimant = claimant
	r.LastUpdate = now
	r.LastUpdateHeight = e.clock.Height()

	e.logger.Debug("Claim recorded",
		zap.Uint64("reportId", r.ID),
		zap.Uint64("round", r.Rounds),
		zap.String("amount2", amount2.String()),
		zap.String("claimant", claimant.Hex()))
	e.bus.Publish(ctx, events.Event{Type: evType, ReportID: r.ID, At: now})
	return nil
}

// Settle finalizes the report once the settlement window has elapsed since
// the last claim. Permissionless; the caller earns the settler reward. The
// callback is dispatched after isDistributed is frozen and its failure is
// swallowed, so a misbehaving consumer can never undo finality.
func (e *Engine) Settle(ctx context.Context, reportID uint64, caller common.Address) (*big.Int, error) {
	r, ok := e.reports.Load(reportID)
	if !ok {
		return nil, fault.Invalid("unknown report")
	}
	r.mu.Lock()

	if r.Distributed {
		r.mu.Unlock()
		return nil, fault.Conflict("already settled")
	}
	if !r.hasClaim() {
		r.mu.Unlock()
		return nil, fault.Timing("no claim")
	}
	elapsed := e.elapsedSeconds(r)
	if elapsed < int64(r.Params.SettlementTime/time.Second) {
		r.mu.Unlock()
		return nil, fault.Timing("settlement window open")
	}
	if r.Params.TimeType == TimeBlock {
		// Block-derived elapsed time running more than twice as fast as the
		// wall clock means the height source is lying.
		wall := int64(e.clock.Now().Sub(r.LastUpdate) / time.Second)
		if elapsed > 2*wall+1 {
			r.mu.Unlock()
			return nil, fault.Timing("implausible clock")
		}
	}

	now := e.clock.Now()
	price := new(big.Int).Mul(r.Amount1, PriceScale)
	price.Div(price, r.Amount2)
	r.Distributed = true
	r.SettledPrice = price
	r.SettledAt = now

	// Payouts: reward to the settler, the creation dust to the fee
	// recipient, the protocol skim off the standing bond, remainder back to
	// the standing claimant. Failures are logged; finality stands.
	e.payout(r, caller, token.Native, r.Params.SettlerReward, "settler reward")
	e.payout(r, r.Params.FeeRecipient, token.Native, big.NewInt(1), "creation dust")
	skim := new(big.Int).Mul(r.Bond, new(big.Int).SetUint64(r.Params.FeePercentage))
	skim.Div(skim, big.NewInt(FeeScale))
	refund := new(big.Int).Sub(r.Bond, skim)
	e.payout(r, r.Params.FeeRecipient, r.Params.Token1, skim, "protocol fee")
	e.payout(r, r.Claimant, r.Params.Token1, refund, "bond refund")

	consumer := r.consumer
	id, t1, t2 := r.ID, r.Params.Token1, r.Params.Token2
	r.mu.Unlock()

	e.logger.Info("Report settled",
		zap.Uint64("reportId", id),
		zap.String("price", price.String()),
		zap.String("settler", caller.Hex()))
	e.bus.Publish(ctx, events.Event{Type: events.TypeReportSettled, ReportID: id, At: now,
		Payload: map[string]any{"price": price.String()}})

	e.dispatch(consumer, id, price, now, t1, t2)
	return new(big.Int).Set(price), nil
}

// dispatch runs the settlement callback in failure isolation.
func (e *Engine) dispatch(consumer Consumer, id uint64, price *big.Int, at time.Time, t1, t2 common.Address) {
	if consumer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("Settlement callback panicked",
				zap.Uint64("reportId", id),
				zap.Any("panic", rec))
		}
	}()
	if err := consumer.OnSettle(id, new(big.Int).Set(price), at, t1, t2); err != nil {
		e.logger.Warn("Settlement callback failed",
			zap.Uint64("reportId", id),
			zap.Error(err))
	}
}

func (e *Engine) payout(r *Report, to common.Address, tok common.Address, amount *big.Int, what string) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	if err := e.bank.Transfer(e.account, to, tok, amount); err != nil {
		e.logger.Warn("Settlement payout failed",
			zap.Uint64("reportId", r.ID),
			zap.String("payout", what),
			zap.String("to", to.Hex()),
			zap.Error(err))
	}
}

// elapsedSeconds measures time since the last update in the report's time
// type, in whole seconds.
func (e *Engine) elapsedSeconds(r *Report) int64 {
	if r.Params.TimeType == TimeBlock {
		blocks := e.clock.Height() - r.LastUpdateHeight
		return int64(blocks * GrowthScale / r.Params.BlocksPerSecond)
	}
	return int64(e.clock.Now().Sub(r.LastUpdate) / time.Second)
}

// Range visits every report's id and status snapshot until fn returns false.
func (e *Engine) Range(fn func(id uint64, st Status) bool) {
	e.reports.Range(func(id uint64, r *Report) bool {
		r.mu.Lock()
		st := r.status()
		r.mu.Unlock()
		return fn(id, st)
	})
}
