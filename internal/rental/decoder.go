package rental

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"labScope/internal/model"
)

// EventDecoder decodes lab rental contract logs into reservation
// events. It is the normalization boundary: keys, token ids, and
// addresses leave here in canonical string form.
type EventDecoder struct {
	contractABI abi.ABI
	topicToKind map[common.Hash]model.EventKind
}

// NewEventDecoder builds a decoder for the rental contract events.
func NewEventDecoder() (*EventDecoder, error) {
	contractABI, err := RentalABI()
	if err != nil {
		return nil, err
	}

	topicToKind := map[common.Hash]model.EventKind{
		contractABI.Events[string(model.KindRequested)].ID:        model.KindRequested,
		contractABI.Events[string(model.KindConfirmed)].ID:        model.KindConfirmed,
		contractABI.Events[string(model.KindBookingCancelled)].ID: model.KindBookingCancelled,
		contractABI.Events[string(model.KindRequestCancelled)].ID: model.KindRequestCancelled,
		contractABI.Events[string(model.KindDenied)].ID:           model.KindDenied,
	}

	return &EventDecoder{
		contractABI: contractABI,
		topicToKind: topicToKind,
	}, nil
}

// Topics returns every topic0 the decoder understands, for log filters.
func (d *EventDecoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToKind))
	for topic := range d.topicToKind {
		topics = append(topics, topic)
	}
	return topics
}

// CanDecode checks whether the topic0 belongs to a rental event.
func (d *EventDecoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToKind[topic0]
	return ok
}

// Decode converts a raw log into a ReservationEvent.
func (d *EventDecoder) Decode(lg types.Log) (model.ReservationEvent, error) {
	if len(lg.Topics) == 0 {
		return model.ReservationEvent{}, fmt.Errorf("missing topics")
	}
	kind, ok := d.topicToKind[lg.Topics[0]]
	if !ok {
		return model.ReservationEvent{}, fmt.Errorf("unsupported topic0: %s", lg.Topics[0].Hex())
	}
	event := d.contractABI.Events[string(kind)]

	indexedTopics, err := parseIndexedTopics(event, lg.Topics)
	if err != nil {
		return model.ReservationEvent{}, fmt.Errorf("%s: %w", kind, err)
	}

	var indexed struct {
		ReservationKey *big.Int
		TokenId        *big.Int
		Renter         common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.ReservationEvent{}, fmt.Errorf("parse %s topics: %w", kind, err)
	}

	ev := model.ReservationEvent{
		Kind:           kind,
		ReservationKey: indexed.ReservationKey.String(),
		TokenID:        indexed.TokenId.String(),
		Renter:         model.NormalizeAddress(indexed.Renter.Hex()),
		BlockNumber:    lg.BlockNumber,
		TxHash:         lg.TxHash.Hex(),
		LogIndex:       lg.Index,
	}

	switch kind {
	case model.KindRequested:
		values, err := unpackNonIndexed(event, lg.Data)
		if err != nil {
			return model.ReservationEvent{}, err
		}
		if len(values) != 2 {
			return model.ReservationEvent{}, fmt.Errorf("unexpected requested values: %d", len(values))
		}
		start, err := asBigInt(values[0])
		if err != nil {
			return model.ReservationEvent{}, fmt.Errorf("start: %w", err)
		}
		end, err := asBigInt(values[1])
		if err != nil {
			return model.ReservationEvent{}, fmt.Errorf("end: %w", err)
		}
		ev.Start = start.String()
		ev.End = end.String()
	case model.KindDenied:
		values, err := unpackNonIndexed(event, lg.Data)
		if err != nil {
			return model.ReservationEvent{}, err
		}
		if len(values) != 1 {
			return model.ReservationEvent{}, fmt.Errorf("unexpected denied values: %d", len(values))
		}
		reason, err := asUint8(values[0])
		if err != nil {
			return model.ReservationEvent{}, fmt.Errorf("reason: %w", err)
		}
		ev.Reason = &reason
	}

	return ev, nil
}

func parseIndexedTopics(event abi.Event, topics []common.Hash) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return topics[1:], nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
