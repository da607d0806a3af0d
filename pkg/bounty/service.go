// Package bounty implements the escalating-reward service that pays the
// first price report on an oracle request. The swap engine funds a claim at
// match time and recalls whatever is left when the swap terminates.
package bounty

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/claimswap/claimswap/pkg/chainclock"
	"github.com/claimswap/claimswap/pkg/fault"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/swap"
	"github.com/claimswap/claimswap/pkg/token"
)

// Service escrows bounty deposits per report id.
type Service struct {
	logger  *zap.Logger
	bank    *token.Bank
	clock   chainclock.Clock
	oracle  *oracle.Engine
	account common.Address

	mu     sync.Mutex
	claims map[uint64]*claim
}

type claim struct {
	fund      swap.BountyFund
	deposited *big.Int
	claimed   *big.Int
	recalled  bool
}

func NewService(logger *zap.Logger, bank *token.Bank, clock chainclock.Clock, orc *oracle.Engine) *Service {
	return &Service{
		logger:  logger.Named("bounty"),
		bank:    bank,
		clock:   clock,
		oracle:  orc,
		account: token.ModuleAddress("bounty-service"),
		claims:  make(map[uint64]*claim),
	}
}

// Account is the service's escrow address.
func (s *Service) Account() common.Address { return s.account }

// FundClaim escrows the deposit and starts the reward schedule for reportID.
func (s *Service) FundClaim(ctx context.Context, f swap.BountyFund) error {
	if f.MaxAmount == nil || f.MaxAmount.Sign() <= 0 ||
		f.StartAmt == nil || f.StartAmt.Sign() <= 0 ||
		f.StartAmt.Cmp(f.MaxAmount) > 0 {
		return fault.Invalid("bountyParams")
	}
	if f.RoundLength <= 0 || f.MaxRounds == 0 || f.Multiplier < oracle.GrowthScale {
		return fault.Invalid("bountyParams")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[f.ReportID]; ok {
		return fault.Conflict("bounty funded")
	}
	if err := s.bank.Transfer(f.Funder, s.account, f.Token, f.MaxAmount); err != nil {
		return fault.Invalid("bounty deposit")
	}
	s.claims[f.ReportID] = &claim{
		fund:      f,
		deposited: new(big.Int).Set(f.MaxAmount),
		claimed:   new(big.Int),
	}
	s.logger.Debug("Bounty funded",
		zap.Uint64("reportId", f.ReportID),
		zap.String("maxAmount", f.MaxAmount.String()))
	return nil
}

// Reward returns the reward currently on offer for the first report. It
// grows by the multiplier each whole round and is capped by the remaining
// deposit.
func (s *Service) Reward(reportID uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[reportID]
	if !ok {
		return nil, fault.Invalid("unknown bounty")
	}
	return s.reward(c), nil
}

func (s *Service) reward(c *claim) *big.Int {
	elapsed := s.clock.Now().Sub(c.fund.ForwardStartTime)
	rounds := uint64(elapsed / c.fund.RoundLength)
	if rounds > c.fund.MaxRounds {
		rounds = c.fund.MaxRounds
	}
	reward := new(big.Int).Set(c.fund.StartAmt)
	mult := new(big.Int).SetUint64(c.fund.Multiplier)
	scale := big.NewInt(oracle.GrowthScale)
	for i := uint64(0); i < rounds; i++ {
		reward.Mul(reward, mult)
		reward.Div(reward, scale)
		if reward.Cmp(c.deposited) >= 0 {
			break
		}
	}
	remaining := new(big.Int).Sub(c.deposited, c.claimed)
	if reward.Cmp(remaining) > 0 {
		reward.Set(remaining)
	}
	return reward
}

// SubmitInitialReport relays the first price claim to the oracle and pays
// the reporter the current reward. Only the first successful report earns.
func (s *Service) SubmitInitialReport(ctx context.Context, reportID uint64, amount1, amount2 *big.Int, stateDigest []byte, reporter common.Address) (*big.Int, error) {
	s.mu.Lock()
	c, ok := s.claims[reportID]
	if !ok {
		s.mu.Unlock()
		return nil, fault.Invalid("unknown bounty")
	}
	if c.claimed.Sign() > 0 {
		s.mu.Unlock()
		return nil, fault.Conflict("bounty claimed")
	}
	if c.recalled {
		s.mu.Unlock()
		return nil, fault.Conflict("bounty recalled")
	}
	reward := s.reward(c)
	s.mu.Unlock()

	// A claim that landed on the oracle directly makes this relay a dispute.
	// Disputes post their own bond and earn no first-report reward.
	st, err := s.oracle.ReportStatus(reportID)
	if err != nil {
		return nil, err
	}
	if st.Amount2 != nil && st.Amount2.Sign() > 0 {
		return nil, fault.Conflict("report already claimed")
	}

	// The bond comes from the reporter's own account.
	if err := s.oracle.SubmitClaim(ctx, reportID, amount1, amount2, stateDigest, reporter); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bank.Transfer(s.account, reporter, c.fund.Token, reward); err != nil {
		s.logger.Warn("Bounty payout failed",
			zap.Uint64("reportId", reportID),
			zap.Error(err))
		return new(big.Int), nil
	}
	c.claimed.Add(c.claimed, reward)
	s.logger.Info("Bounty claimed",
		zap.Uint64("reportId", reportID),
		zap.String("reward", reward.String()),
		zap.String("reporter", reporter.Hex()))
	return reward, nil
}

// RecallBounty returns the unclaimed remainder to the claim's creator.
// Idempotent: repeated recalls pay nothing further.
func (s *Service) RecallBounty(ctx context.Context, reportID uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[reportID]
	if !ok {
		return nil, fault.Invalid("unknown bounty")
	}
	if c.recalled {
		return new(big.Int), nil
	}
	remaining := new(big.Int).Sub(c.deposited, c.claimed)
	c.recalled = true
	if remaining.Sign() == 0 {
		return remaining, nil
	}
	if err := s.bank.Transfer(s.account, c.fund.Creator, c.fund.Token, remaining); err != nil {
		c.recalled = false
		return nil, err
	}
	s.logger.Debug("Bounty recalled",
		zap.Uint64("reportId", reportID),
		zap.String("amount", remaining.String()))
	return remaining, nil
}
