package rental

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"labScope/internal/model"
)

// ContractCaller is the slice of the chain client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader answers reservation status lookups against the rental
// contract.
type Reader struct {
	contract    common.Address
	contractABI abi.ABI
	caller      ContractCaller
}

// NewReader builds a reader bound to one rental contract address.
func NewReader(contract string, caller ContractCaller) (*Reader, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address: %s", contract)
	}
	contractABI, err := RentalABI()
	if err != nil {
		return nil, err
	}
	return &Reader{
		contract:    common.HexToAddress(contract),
		contractABI: contractABI,
		caller:      caller,
	}, nil
}

// GetReservation reads the current on-chain record for a reservation
// key. Keys that cannot be expressed as a uint256 are rejected before
// any network traffic.
func (r *Reader) GetReservation(ctx context.Context, key string) (model.Reservation, error) {
	keyBig, err := model.KeyToBig(key)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("reservation key %q: %w", key, err)
	}

	data, err := r.contractABI.Pack("getReservation", keyBig)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("pack getReservation: %w", err)
	}
	msg := ethereum.CallMsg{To: &r.contract, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("call getReservation: %w", err)
	}
	values, err := r.contractABI.Unpack("getReservation", resp)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("unpack getReservation: %w", err)
	}
	if len(values) != 5 {
		return model.Reservation{}, fmt.Errorf("unexpected getReservation values: %d", len(values))
	}

	status, err := asUint8(values[0])
	if err != nil {
		return model.Reservation{}, fmt.Errorf("status: %w", err)
	}
	renter, err := asAddress(values[1])
	if err != nil {
		return model.Reservation{}, fmt.Errorf("renter: %w", err)
	}
	tokenID, err := asBigInt(values[2])
	if err != nil {
		return model.Reservation{}, fmt.Errorf("token id: %w", err)
	}
	start, err := asBigInt(values[3])
	if err != nil {
		return model.Reservation{}, fmt.Errorf("start: %w", err)
	}
	end, err := asBigInt(values[4])
	if err != nil {
		return model.Reservation{}, fmt.Errorf("end: %w", err)
	}

	res := model.Reservation{
		ReservationKey: keyBig.String(),
		TokenID:        tokenID.String(),
		Renter:         renter.Hex(),
		Status:         status,
		Start:          start.Uint64(),
		End:            end.Uint64(),
	}
	res.Normalize()
	return res, nil
}
