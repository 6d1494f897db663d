package rental

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"labScope/internal/model"
)

func buildLog(topic0 common.Hash, data []byte, indexed []common.Hash) types.Log {
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, topic0)
	topics = append(topics, indexed...)

	return types.Log{
		Address:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		TxHash:      common.HexToHash("0xdefdefdefdefdefdefdefdefdefdefdefdefdefdefdefdefdefdefdefdefdef0"),
		Index:       1,
	}
}

func topicFromBig(v *big.Int) common.Hash {
	return common.BigToHash(v)
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeRequested(t *testing.T) {
	contractABI, err := RentalABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	renter := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := contractABI.Events["ReservationRequested"].Inputs.NonIndexed().Pack(
		big.NewInt(1700000000),
		big.NewInt(1700003600),
	)
	if err != nil {
		t.Fatalf("pack requested: %v", err)
	}

	lg := buildLog(contractABI.Events["ReservationRequested"].ID, data, []common.Hash{
		topicFromBig(big.NewInt(9000000001)),
		topicFromBig(big.NewInt(7)),
		topicFromAddress(renter),
	})

	ev, err := decoder.Decode(lg)
	if err != nil {
		t.Fatalf("decode requested: %v", err)
	}

	if ev.Kind != model.KindRequested {
		t.Fatalf("kind: %s", ev.Kind)
	}
	if ev.ReservationKey != "9000000001" || ev.TokenID != "7" {
		t.Fatalf("key/token: %s/%s", ev.ReservationKey, ev.TokenID)
	}
	if ev.Renter != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("renter: %s", ev.Renter)
	}
	if ev.Start != "1700000000" || ev.End != "1700003600" {
		t.Fatalf("window: %s-%s", ev.Start, ev.End)
	}
	if ev.Reason != nil {
		t.Fatalf("unexpected reason: %d", *ev.Reason)
	}
	if ev.BlockNumber != 12345 || ev.LogIndex != 1 {
		t.Fatalf("log position: %d/%d", ev.BlockNumber, ev.LogIndex)
	}
}

func TestDecodeDeniedCarriesReason(t *testing.T) {
	contractABI, err := RentalABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	data, err := contractABI.Events["ReservationRequestDenied"].Inputs.NonIndexed().Pack(uint8(5))
	if err != nil {
		t.Fatalf("pack denied: %v", err)
	}

	lg := buildLog(contractABI.Events["ReservationRequestDenied"].ID, data, []common.Hash{
		topicFromBig(big.NewInt(42)),
		topicFromBig(big.NewInt(7)),
		topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222")),
	})

	ev, err := decoder.Decode(lg)
	if err != nil {
		t.Fatalf("decode denied: %v", err)
	}
	if ev.Kind != model.KindDenied {
		t.Fatalf("kind: %s", ev.Kind)
	}
	if ev.Reason == nil || *ev.Reason != 5 {
		t.Fatalf("reason: %v", ev.Reason)
	}
}

func TestDecodeTerminalEventsWithoutData(t *testing.T) {
	contractABI, err := RentalABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	for _, name := range []string{"BookingConfirmed", "BookingCancelled", "ReservationRequestCancelled"} {
		lg := buildLog(contractABI.Events[name].ID, nil, []common.Hash{
			topicFromBig(big.NewInt(42)),
			topicFromBig(big.NewInt(7)),
			topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222")),
		})

		ev, err := decoder.Decode(lg)
		if err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if string(ev.Kind) != name {
			t.Fatalf("kind: %s, want %s", ev.Kind, name)
		}
		if ev.Reason != nil || ev.Start != "" || ev.End != "" {
			t.Fatalf("%s should carry no payload: %+v", name, ev)
		}
	}
}

func TestDecodeRejectsTopicMismatch(t *testing.T) {
	contractABI, err := RentalABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	lg := buildLog(contractABI.Events["BookingConfirmed"].ID, nil, []common.Hash{
		topicFromBig(big.NewInt(42)),
	})
	if _, err := decoder.Decode(lg); err == nil {
		t.Fatal("short topic list must fail")
	}

	if _, err := decoder.Decode(types.Log{}); err == nil {
		t.Fatal("empty log must fail")
	}
}

func TestCanDecodeAndTopics(t *testing.T) {
	contractABI, err := RentalABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	for _, name := range []string{
		"ReservationRequested",
		"BookingConfirmed",
		"BookingCancelled",
		"ReservationRequestCancelled",
		"ReservationRequestDenied",
	} {
		if !decoder.CanDecode(contractABI.Events[name].ID) {
			t.Fatalf("cannot decode %s", name)
		}
	}
	if decoder.CanDecode(common.HexToHash("0x01")) {
		t.Fatal("foreign topic accepted")
	}
	if got := len(decoder.Topics()); got != 5 {
		t.Fatalf("topic filter entries: %d", got)
	}
}
