package controller

import (
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimswap/claimswap/pkg/fault"
)

func TestWriteEngineErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", fault.Invalid("zero amounts"), 400},
		{"access control", fault.Access("not swapper"), 403},
		{"timing", fault.Timing("expired"), 409},
		{"state conflict", fault.Conflict("swap matched"), 409},
		{"unclassified", assert.AnError, 500},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeEngineError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.err.Error())
		})
	}
}

func TestBigIntParsing(t *testing.T) {
	v, err := bigInt("123456789012345678901234567890")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, want, v)

	// An omitted field must not silently become zero.
	_, err = bigInt("")
	assert.Error(t, err)

	_, err = bigInt("0x10")
	assert.Error(t, err)
	_, err = bigInt("ten")
	assert.Error(t, err)
}

func TestAddressParsing(t *testing.T) {
	a, err := address("0x0000000000000000000000000000000000000b01")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000b01"), a)

	_, err = address("")
	assert.Error(t, err)
	_, err = address("not-an-address")
	assert.Error(t, err)
}
