package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsedABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	require.NoError(t, err)
	return parsed
}

// Packs create_deal with the same argument shapes FundDeal submits. The
// contract declares milestone_approvals as uint256[], so the flags must
// travel as 0/1 words rather than a bool slice.
func TestCreateDealArgumentsPack(t *testing.T) {
	parsed := parsedABI(t)

	data, err := parsed.Pack("create_deal",
		new(big.Int),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.Address{},
		big.NewInt(100_000),
		[]*big.Int{big.NewInt(30_000), big.NewInt(50_000), big.NewInt(20_000)},
		[]*big.Int{big.NewInt(0), big.NewInt(1_900_000_000), big.NewInt(0)},
		ApprovalWords([]bool{true, false, true}),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = parsed.Pack("create_deal",
		new(big.Int),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.Address{},
		big.NewInt(100_000),
		[]*big.Int{big.NewInt(100_000)},
		[]*big.Int{big.NewInt(0)},
		[]bool{true},
	)
	assert.Error(t, err, "bool slices must not reach the packer")
}

func TestApprovalWords(t *testing.T) {
	got := ApprovalWords([]bool{true, false, true})
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Int64())
	assert.Equal(t, int64(0), got[1].Int64())
	assert.Equal(t, int64(1), got[2].Int64())

	assert.Empty(t, ApprovalWords(nil))
}

func TestMutatingCallsPack(t *testing.T) {
	parsed := parsedABI(t)

	_, err := parsed.Pack("release_milestone", new(big.Int).SetUint64(7), big.NewInt(1))
	assert.NoError(t, err)

	_, err = parsed.Pack("raise_dispute", new(big.Int).SetUint64(7))
	assert.NoError(t, err)

	_, err = parsed.Pack("resolve_dispute", new(big.Int).SetUint64(7), big.NewInt(60), big.NewInt(40))
	assert.NoError(t, err)
}
