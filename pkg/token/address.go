package token

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives a stable ledger address for a named system account
// (engine escrows, the bounty pool).
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("claimswap/" + name))[12:])
}

// DerivedAddress derives a per-record address, e.g. one fee receiver per swap.
func DerivedAddress(name string, id uint64) common.Address {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return common.BytesToAddress(crypto.Keccak256([]byte("claimswap/"+name+"/"), buf)[12:])
}
