package model

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// CanonicalKey converts a reservation key or token id into its canonical
// form: one decimal string. The ledger hands keys around in whatever
// encoding the transport picked (big integers, numeric primitives, hex
// or decimal strings); every map in the session is keyed by the output
// of this function and nothing else, so all correlation depends on it.
//
// Identifier strings that are not numeric pass through trimmed and
// unchanged.
func CanonicalKey(value interface{}) (string, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return "", fmt.Errorf("nil key")
		}
		return v.String(), nil
	case big.Int:
		return v.String(), nil
	case string:
		return canonicalKeyString(v)
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case float64:
		return canonicalKeyFloat(v)
	case float32:
		return canonicalKeyFloat(float64(v))
	case []byte:
		if len(v) == 0 {
			return "", fmt.Errorf("empty key bytes")
		}
		return new(big.Int).SetBytes(v).String(), nil
	default:
		return "", fmt.Errorf("unsupported key type %T", value)
	}
}

// KeyFromString normalizes a key already held as a string. Numeric
// forms (decimal, 0x hex) become canonical decimal; anything else is
// returned trimmed. It never fails; ingestion points apply it
// unconditionally.
func KeyFromString(s string) string {
	key, err := canonicalKeyString(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return key
}

// KeyToBig parses a canonical key back into a big integer for ABI
// encoding. Non-numeric identifier keys cannot be read on chain.
func KeyToBig(key string) (*big.Int, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty key")
	}
	if isHexKey(key) {
		n, ok := new(big.Int).SetString(key[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex key: %s", key)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(key, 10)
	if !ok {
		return nil, fmt.Errorf("key is not numeric: %s", key)
	}
	return n, nil
}

// NormalizeAddress lowers an address to its canonical comparable form.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress compares two addresses after normalization. Empty
// addresses never match anything.
func SameAddress(a, b string) bool {
	a = NormalizeAddress(a)
	b = NormalizeAddress(b)
	return a != "" && a == b
}

func canonicalKeyString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty key")
	}
	if isHexKey(s) {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return s, nil
		}
		return n.String(), nil
	}
	if isDecimal(s) {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return s, nil
		}
		return n.String(), nil
	}
	return s, nil
}

func canonicalKeyFloat(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("non-finite key: %v", v)
	}
	if v != math.Trunc(v) {
		return "", fmt.Errorf("fractional key: %v", v)
	}
	n, _ := new(big.Float).SetFloat64(v).Int(nil)
	return n.String(), nil
}

func isHexKey(s string) bool {
	return len(s) > 2 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"))
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
