package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func dealTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

func dealCreatedLog(dealID uint64) types.Log {
	data := append([]byte{}, addressWord(common.HexToAddress("0x1111111111111111111111111111111111111111"))...)
	data = append(data, addressWord(common.HexToAddress("0x2222222222222222222222222222222222222222"))...)
	data = append(data, word(big.NewInt(1_000_000))...)
	data = append(data, addressWord(common.Address{})...)
	return types.Log{
		Topics: []common.Hash{DealCreatedEvent.Topic, dealTopic(dealID)},
		Data:   data,
	}
}

func unrelatedLog() types.Log {
	return types.Log{
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
			dealTopic(99),
			dealTopic(98),
		},
		Data: word(big.NewInt(42)),
	}
}

func TestDecodeLogDealCreated(t *testing.T) {
	dec, ok := DecodeLog(dealCreatedLog(7))
	require.True(t, ok)
	assert.Equal(t, DealCreatedEvent, dec.Schema)
	assert.Equal(t, uint64(7), dec.DealID)

	amount, ok := dec.Values["amount"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000), amount.Int64())

	client, ok := dec.Values["client"].(common.Address)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), client)
}

func TestDecodeLogIgnoresUnknownAndMalformed(t *testing.T) {
	_, ok := DecodeLog(unrelatedLog())
	assert.False(t, ok)

	// Known topic but truncated data must not decode.
	bad := dealCreatedLog(7)
	bad.Data = bad.Data[:40]
	_, ok = DecodeLog(bad)
	assert.False(t, ok)

	// Missing the indexed deal id topic.
	_, ok = DecodeLog(types.Log{Topics: []common.Hash{DealCreatedEvent.Topic}})
	assert.False(t, ok)
}

func TestExtractDealIDSkipsUnrelatedLogs(t *testing.T) {
	unrelated := unrelatedLog()
	created := dealCreatedLog(7)
	logs := []*types.Log{&unrelated, nil, &created}

	id, ok := ExtractDealID(logs, DealCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), id)
}

func TestExtractDealIDNoMatch(t *testing.T) {
	unrelated := unrelatedLog()
	created := dealCreatedLog(7)

	// A DealCreated log must not satisfy a DisputeResolved extraction.
	_, ok := ExtractDealID([]*types.Log{&unrelated, &created}, DisputeResolvedEvent)
	assert.False(t, ok)

	_, ok = ExtractDealID(nil, DealCreatedEvent)
	assert.False(t, ok)
}

func TestDecodeResolution(t *testing.T) {
	data := append([]byte{}, word(big.NewInt(600))...)
	data = append(data, word(big.NewInt(400))...)
	data = append(data, word(big.NewInt(50))...)
	lg := types.Log{
		Topics:      []common.Hash{DisputeResolvedEvent.Topic, dealTopic(12)},
		Data:        data,
		BlockNumber: 1234,
		TxHash:      common.HexToHash("0xabc1"),
	}

	ev, ok := DecodeResolution(lg)
	require.True(t, ok)
	assert.Equal(t, uint64(12), ev.ChainDealID)
	assert.Equal(t, int64(600), ev.ClientAmount.Int64())
	assert.Equal(t, int64(400), ev.FreelancerAmount.Int64())
	assert.Equal(t, int64(50), ev.ArbiterFee.Int64())
	assert.Equal(t, uint64(1234), ev.BlockNumber)
}

func TestDecodeResolutionRejectsOtherEvents(t *testing.T) {
	_, ok := DecodeResolution(dealCreatedLog(7))
	assert.False(t, ok)
}

func TestMilestoneReleasedDecode(t *testing.T) {
	data := append([]byte{}, word(big.NewInt(1))...)
	data = append(data, addressWord(common.HexToAddress("0x2222222222222222222222222222222222222222"))...)
	data = append(data, word(big.NewInt(30_000))...)
	lg := types.Log{
		Topics: []common.Hash{MilestoneReleasedEvent.Topic, dealTopic(3)},
		Data:   data,
	}

	dec, ok := DecodeLog(lg)
	require.True(t, ok)
	assert.Equal(t, MilestoneReleasedEvent, dec.Schema)
	assert.Equal(t, uint64(3), dec.DealID)

	idx, ok := dec.Values["milestone_index"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(1), idx.Int64())
}
