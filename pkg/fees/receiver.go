// Package fees implements the per-swap protocol-fee receiver. Each matched
// swap with a nonzero protocol fee gets its own receiver address; the oracle
// skim and the swap-fee cut accrue there until grabFees sweeps and splits
// them.
package fees

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/claimswap/claimswap/pkg/token"
)

// Receiver escrows protocol-fee shares for exactly one swap (its "game").
type Receiver struct {
	bank    *token.Bank
	account common.Address
	owner   common.Address
	gameID  uint64
}

func NewReceiver(bank *token.Bank, owner common.Address, gameID uint64) *Receiver {
	return &Receiver{
		bank:    bank,
		account: token.DerivedAddress("fee-receiver", gameID),
		owner:   owner,
		gameID:  gameID,
	}
}

// Account is the address fee shares accrue to.
func (r *Receiver) Account() common.Address { return r.account }

// Owner is the only party Sweep pays out to.
func (r *Receiver) Owner() common.Address { return r.owner }

// GameID identifies the swap this receiver is bound to.
func (r *Receiver) GameID() uint64 { return r.gameID }

// Collect reports the balance currently accrued for tok. Fee accrual can
// happen incrementally before the swap's report settles, so Collect is
// callable repeatedly.
func (r *Receiver) Collect(tok common.Address) *big.Int {
	return r.bank.Balance(r.account, tok)
}

// Sweep moves the full accrued balance of tok to the owner and returns the
// amount moved. Zero balance is a no-op.
func (r *Receiver) Sweep(tok common.Address) (*big.Int, error) {
	bal := r.bank.Balance(r.account, tok)
	if bal.Sign() == 0 {
		return bal, nil
	}
	if err := r.bank.Transfer(r.account, r.owner, tok, bal); err != nil {
		return new(big.Int), err
	}
	return bal, nil
}
