package security

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinterResponse_NoMinter(t *testing.T) {
	minter, cap, err := parseMinterResponse(json.RawMessage(`{"minter":"","cap":""}`))
	require.NoError(t, err)
	assert.Nil(t, minter)
	assert.Nil(t, cap)
}

func TestParseMinterResponse_ActiveUncapped(t *testing.T) {
	minter, cap, err := parseMinterResponse(json.RawMessage(`{"minter":"zig1abc...","cap":""}`))
	require.NoError(t, err)
	require.NotNil(t, minter)
	assert.Equal(t, "zig1abc...", *minter)
	assert.Nil(t, cap)
}

func TestParseMinterResponse_ActiveCapped(t *testing.T) {
	minter, cap, err := parseMinterResponse(json.RawMessage(`{"minter":"zig1abc...","cap":"1000000000"}`))
	require.NoError(t, err)
	require.NotNil(t, minter)
	require.NotNil(t, cap)
	assert.Equal(t, "zig1abc...", *minter)
	assert.Equal(t, big.NewInt(1000000000), cap)
}

func TestParseMinterResponse_UnparseableCapTreatedAsUncapped(t *testing.T) {
	minter, cap, err := parseMinterResponse(json.RawMessage(`{"minter":"zig1abc...","cap":"not-a-number"}`))
	require.NoError(t, err)
	require.NotNil(t, minter)
	assert.Nil(t, cap)
}

func TestParseMinterResponse_MalformedJSON(t *testing.T) {
	_, _, err := parseMinterResponse(json.RawMessage(`not json`))
	assert.Error(t, err)
}
