package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Canonical event signatures of the escrow contract. Every event indexes the
// deal id as its only indexed argument; the remaining fields live in the
// data section in declaration order.
const (
	dealCreatedSig       = "DealCreated(uint256,address,address,uint256,address)"
	milestoneReleasedSig = "MilestoneReleased(uint256,uint256,address,uint256)"
	disputeRaisedSig     = "DisputeRaised(uint256,address)"
	disputeResolvedSig   = "DisputeResolved(uint256,uint256,uint256,uint256)"
)

// EventSchema declares how to decode one contract event: its topic hash plus
// the named layout of its data fields. Adding an event means adding a schema
// here, not writing new parsing code.
type EventSchema struct {
	Name  string
	Topic common.Hash
	// FieldNames names the non-indexed data fields in emission order.
	FieldNames []string
	args       abi.Arguments
}

var (
	DealCreatedEvent       = mustSchema("DealCreated", dealCreatedSig, "client", "freelancer", "amount", "token")
	MilestoneReleasedEvent = mustSchema("MilestoneReleased", milestoneReleasedSig, "milestone_index", "freelancer", "amount")
	DisputeRaisedEvent     = mustSchema("DisputeRaised", disputeRaisedSig, "initiator")
	DisputeResolvedEvent   = mustSchema("DisputeResolved", disputeResolvedSig, "client_amount", "freelancer_amount", "arbiter_fee")

	// eventRegistry maps topic hashes to schemas for tolerant log scanning.
	eventRegistry = map[common.Hash]*EventSchema{
		DealCreatedEvent.Topic:       DealCreatedEvent,
		MilestoneReleasedEvent.Topic: MilestoneReleasedEvent,
		DisputeRaisedEvent.Topic:     DisputeRaisedEvent,
		DisputeResolvedEvent.Topic:   DisputeResolvedEvent,
	}
)

// mustSchema builds an EventSchema from a canonical signature. The first
// parameter of every escrow event is the indexed deal id, so the data layout
// starts at the second parameter.
func mustSchema(name, sig string, fieldNames ...string) *EventSchema {
	open := strings.IndexByte(sig, '(')
	end := strings.LastIndexByte(sig, ')')
	if open < 0 || end < open {
		panic(fmt.Sprintf("chain: malformed event signature %q", sig))
	}
	typeList := strings.Split(sig[open+1:end], ",")
	if len(typeList)-1 != len(fieldNames) {
		panic(fmt.Sprintf("chain: %s: %d data fields named for %d types", name, len(fieldNames), len(typeList)-1))
	}

	args := make(abi.Arguments, 0, len(fieldNames))
	for i, typ := range typeList[1:] {
		t, err := abi.NewType(strings.TrimSpace(typ), "", nil)
		if err != nil {
			panic(fmt.Sprintf("chain: %s: bad abi type %q: %v", name, typ, err))
		}
		args = append(args, abi.Argument{Name: fieldNames[i], Type: t})
	}

	return &EventSchema{
		Name:       name,
		Topic:      crypto.Keccak256Hash([]byte(sig)),
		FieldNames: fieldNames,
		args:       args,
	}
}

// DecodedLog is one receipt log matched against the registry.
type DecodedLog struct {
	Schema *EventSchema
	DealID uint64
	Values map[string]any
	Raw    types.Log
}

// DecodeLog tries to decode a single log against the registry. Unknown
// topics and malformed data are not errors; the caller just skips the log.
func DecodeLog(lg types.Log) (DecodedLog, bool) {
	if len(lg.Topics) < 2 {
		return DecodedLog{}, false
	}
	schema, ok := eventRegistry[lg.Topics[0]]
	if !ok {
		return DecodedLog{}, false
	}

	unpacked, err := schema.args.Unpack(lg.Data)
	if err != nil || len(unpacked) != len(schema.FieldNames) {
		return DecodedLog{}, false
	}

	values := make(map[string]any, len(unpacked))
	for i, name := range schema.FieldNames {
		values[name] = unpacked[i]
	}

	return DecodedLog{
		Schema: schema,
		DealID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		Values: values,
		Raw:    lg,
	}, true
}

// ExtractDealID scans receipt logs for the first log matching the wanted
// schema and returns its deal id. Unrelated logs from other contracts or
// events never abort the scan.
func ExtractDealID(logs []*types.Log, want *EventSchema) (uint64, bool) {
	for _, lg := range logs {
		if lg == nil {
			continue
		}
		dec, ok := DecodeLog(*lg)
		if !ok || dec.Schema != want {
			continue
		}
		return dec.DealID, true
	}
	return 0, false
}

// DecodeResolution converts a DisputeResolved log into a domain event.
func DecodeResolution(lg types.Log) (domain.ResolutionEvent, bool) {
	dec, ok := DecodeLog(lg)
	if !ok || dec.Schema != DisputeResolvedEvent {
		return domain.ResolutionEvent{}, false
	}

	clientAmt, okC := dec.Values["client_amount"].(*big.Int)
	freelancerAmt, okF := dec.Values["freelancer_amount"].(*big.Int)
	fee, okA := dec.Values["arbiter_fee"].(*big.Int)
	if !okC || !okF || !okA {
		return domain.ResolutionEvent{}, false
	}

	return domain.ResolutionEvent{
		ChainDealID:      dec.DealID,
		ClientAmount:     clientAmt,
		FreelancerAmount: freelancerAmt,
		ArbiterFee:       fee,
		TxHash:           lg.TxHash.Hex(),
		BlockNumber:      lg.BlockNumber,
	}, true
}
