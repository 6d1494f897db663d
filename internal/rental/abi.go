package rental

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const rentalABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "reservationKey", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "renter", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "start", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "end", "type": "uint256"}
    ],
    "name": "ReservationRequested",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "reservationKey", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "renter", "type": "address"}
    ],
    "name": "BookingConfirmed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "reservationKey", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "renter", "type": "address"}
    ],
    "name": "BookingCancelled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "reservationKey", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "renter", "type": "address"}
    ],
    "name": "ReservationRequestCancelled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "reservationKey", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "renter", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "reason", "type": "uint8"}
    ],
    "name": "ReservationRequestDenied",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "reservationKey", "type": "uint256"}
    ],
    "name": "getReservation",
    "outputs": [
      {"internalType": "uint8", "name": "status", "type": "uint8"},
      {"internalType": "address", "name": "renter", "type": "address"},
      {"internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"internalType": "uint256", "name": "start", "type": "uint256"},
      {"internalType": "uint256", "name": "end", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	rentalABI     abi.ABI
	rentalABIOnce sync.Once
	rentalABIErr  error
)

// RentalABI returns the parsed lab rental contract ABI.
func RentalABI() (abi.ABI, error) {
	rentalABIOnce.Do(func() {
		rentalABI, rentalABIErr = abi.JSON(strings.NewReader(rentalABIJSON))
	})
	return rentalABI, rentalABIErr
}
