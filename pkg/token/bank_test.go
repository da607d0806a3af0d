package token_test

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/claimswap/claimswap/pkg/token"
)

var (
	asset = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000301")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000302")
)

func TestTransferMovesBalance(t *testing.T) {
	b := token.NewBank()
	b.Mint(alice, asset, big.NewInt(100))

	require.NoError(t, b.Transfer(alice, bob, asset, big.NewInt(40)))
	require.Equal(t, big.NewInt(60), b.Balance(alice, asset))
	require.Equal(t, big.NewInt(40), b.Balance(bob, asset))

	// Zero is a no-op, negative is rejected.
	require.NoError(t, b.Transfer(alice, bob, asset, big.NewInt(0)))
	require.Error(t, b.Transfer(alice, bob, asset, big.NewInt(-1)))
}

func TestTransferInsufficientFundsIsAtomic(t *testing.T) {
	b := token.NewBank()
	b.Mint(alice, asset, big.NewInt(10))

	err := b.Transfer(alice, bob, asset, big.NewInt(11))
	require.ErrorIs(t, err, token.ErrInsufficientFunds)
	require.Equal(t, big.NewInt(10), b.Balance(alice, asset))
	require.Equal(t, big.NewInt(0), b.Balance(bob, asset))
}

func TestTransferGuardVetoes(t *testing.T) {
	b := token.NewBank()
	b.Mint(alice, asset, big.NewInt(100))

	b.SetGuard(asset, func(from, to common.Address, amount *big.Int) error {
		if to == bob {
			return fmt.Errorf("blocklisted")
		}
		return nil
	})

	err := b.Transfer(alice, bob, asset, big.NewInt(1))
	require.Error(t, err)
	require.Equal(t, big.NewInt(100), b.Balance(alice, asset))

	// Native transfers are unguarded.
	b.Mint(alice, token.Native, big.NewInt(5))
	require.NoError(t, b.Transfer(alice, bob, token.Native, big.NewInt(5)))

	b.SetGuard(asset, nil)
	require.NoError(t, b.Transfer(alice, bob, asset, big.NewInt(1)))
}

func TestModuleAddressesAreStable(t *testing.T) {
	a := token.ModuleAddress("swap-engine")
	require.Equal(t, a, token.ModuleAddress("swap-engine"))
	require.NotEqual(t, a, token.ModuleAddress("oracle-engine"))

	d := token.DerivedAddress("fee-receiver", 7)
	require.Equal(t, d, token.DerivedAddress("fee-receiver", 7))
	require.NotEqual(t, d, token.DerivedAddress("fee-receiver", 8))
	require.NotEqual(t, d, a)
}
