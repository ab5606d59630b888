package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
	uint8Type   = mustType("uint8")
	stringType  = mustType("string")
)

// Events emitted by the vault. Their layout mirrors what an on-chain
// deployment would log so off-chain indexers can decode either source.
var (
	EventInitialized = abi.NewEvent("Initialized", "Initialized", false, abi.Arguments{
		{Name: "receiptToken", Type: addressType, Indexed: true},
		{Name: "incentivesController", Type: addressType, Indexed: true},
		{Name: "registry", Type: addressType, Indexed: true},
		{Name: "decimals", Type: uint8Type},
		{Name: "name", Type: stringType},
		{Name: "symbol", Type: stringType},
		{Name: "owner", Type: addressType},
	})

	EventDeposited = abi.NewEvent("Deposited", "Deposited", false, abi.Arguments{
		{Name: "depositor", Type: addressType, Indexed: true},
		{Name: "amount", Type: uint256Type},
		{Name: "shares", Type: uint256Type},
	})

	EventRedeemed = abi.NewEvent("Redeemed", "Redeemed", false, abi.Arguments{
		{Name: "holder", Type: addressType, Indexed: true},
		{Name: "recipient", Type: addressType, Indexed: true},
		{Name: "shares", Type: uint256Type},
		{Name: "amount", Type: uint256Type},
	})

	EventRewardsClaimed = abi.NewEvent("RewardsClaimed", "RewardsClaimed", false, abi.Arguments{
		{Name: "recipient", Type: addressType, Indexed: true},
		{Name: "amount", Type: uint256Type},
	})

	EventOwnershipTransferred = abi.NewEvent("OwnershipTransferred", "OwnershipTransferred", false, abi.Arguments{
		{Name: "previousOwner", Type: addressType, Indexed: true},
		{Name: "newOwner", Type: addressType, Indexed: true},
	})
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// NewLog builds a log for ev emitted by emitter. Values are given in input
// order; indexed inputs must be addresses.
func NewLog(ev abi.Event, emitter common.Address, values ...interface{}) (*types.Log, error) {
	if len(values) != len(ev.Inputs) {
		return nil, fmt.Errorf("event %s: got %d values, want %d", ev.Name, len(values), len(ev.Inputs))
	}

	topics := []common.Hash{ev.ID}
	var data []interface{}
	for i, input := range ev.Inputs {
		if !input.Indexed {
			data = append(data, values[i])
			continue
		}
		addr, ok := values[i].(common.Address)
		if !ok {
			return nil, fmt.Errorf("event %s: indexed input %s is %T, want address", ev.Name, input.Name, values[i])
		}
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("event %s: pack: %w", ev.Name, err)
	}

	return &types.Log{
		Address: emitter,
		Topics:  topics,
		Data:    packed,
	}, nil
}

// DecodeLog unpacks a log produced by NewLog into a name -> value map.
// Indexed addresses come back as common.Address, uint256 values as *big.Int.
func DecodeLog(ev abi.Event, log *types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, fmt.Errorf("log is not a %s event", ev.Name)
	}

	out := make(map[string]interface{})
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, log.Data); err != nil {
		return nil, fmt.Errorf("event %s: unpack: %w", ev.Name, err)
	}

	topic := 1
	for _, input := range ev.Inputs {
		if !input.Indexed {
			continue
		}
		if topic >= len(log.Topics) {
			return nil, fmt.Errorf("event %s: missing topic for %s", ev.Name, input.Name)
		}
		out[input.Name] = common.BytesToAddress(log.Topics[topic].Bytes())
		topic++
	}
	return out, nil
}

func allEvents() []abi.Event {
	return []abi.Event{EventInitialized, EventDeposited, EventRedeemed, EventRewardsClaimed, EventOwnershipTransferred}
}

// EventByID looks up one of the vault's events by its topic hash.
func EventByID(id common.Hash) (abi.Event, bool) {
	for _, ev := range allEvents() {
		if ev.ID == id {
			return ev, true
		}
	}
	return abi.Event{}, false
}

// EventByName looks up one of the vault's events by name.
func EventByName(name string) (abi.Event, bool) {
	for _, ev := range allEvents() {
		if ev.Name == name {
			return ev, true
		}
	}
	return abi.Event{}, false
}
