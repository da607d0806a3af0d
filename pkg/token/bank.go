// Package token implements the in-memory asset ledger backing both engines.
// Accounts and tokens are 20-byte addresses; the zero address is the native
// currency. Every escrow, payout and refund in the system moves through a
// single Bank so conservation can be asserted per token.
package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Native is the pseudo-token address for the native currency.
var Native = common.Address{}

// ErrInsufficientFunds is returned when a debit exceeds the payer's balance.
var ErrInsufficientFunds = fmt.Errorf("insufficient funds")

// TransferGuard can veto transfers of a given token. Guards model
// misbehaving tokens (blocklists, paused contracts) so the failure-isolation
// paths of the swap engine can be exercised.
type TransferGuard func(from, to common.Address, amount *big.Int) error

// Bank is a thread-safe balance ledger.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int // account -> token -> balance
	guards   map[common.Address]TransferGuard               // token -> guard
}

func NewBank() *Bank {
	return &Bank{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		guards:   make(map[common.Address]TransferGuard),
	}
}

// SetGuard installs (or clears, with nil) a transfer guard for a token.
func (b *Bank) SetGuard(token common.Address, g TransferGuard) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g == nil {
		delete(b.guards, token)
		return
	}
	b.guards[token] = g
}

// Mint credits an account out of thin air. Deposits from the outside world
// enter the ledger through Mint.
func (b *Bank) Mint(account, token common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(account, token, amount)
}

// Transfer moves amount of token between accounts. A zero amount is a no-op.
// The debit and credit are atomic: a guarded or underfunded transfer leaves
// both balances untouched.
func (b *Bank) Transfer(from, to, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.guards[token]; ok {
		if err := g(from, to, amount); err != nil {
			return fmt.Errorf("token %s transfer rejected: %w", token.Hex(), err)
		}
	}
	bal := b.balance(from, token)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s of %s: %w", amount.String(), token.Hex(), ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	b.credit(to, token, amount)
	return nil
}

// Balance returns a copy of the account's balance for token.
func (b *Bank) Balance(account, token common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(account, token))
}

func (b *Bank) balance(account, token common.Address) *big.Int {
	tokens, ok := b.balances[account]
	if !ok {
		tokens = make(map[common.Address]*big.Int)
		b.balances[account] = tokens
	}
	bal, ok := tokens[token]
	if !ok {
		bal = new(big.Int)
		tokens[token] = bal
	}
	return bal
}

func (b *Bank) credit(account, token common.Address, amount *big.Int) {
	bal := b.balance(account, token)
	bal.Add(bal, amount)
}
