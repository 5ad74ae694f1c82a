// Package base62 implements the positional numeral codec over the alphabet
// 0-9 a-z A-Z used for short codes.
package base62

import (
	"fmt"
	"math"
)

// Alphabet is the 62-symbol digit set, in value order. Index == digit value.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// MaxCodeLen bounds valid short codes to 10 symbols (62^10 ≈ 8.4·10^17).
const MaxCodeLen = 10

const base = uint64(62)

// digitValue maps an ASCII byte to its digit value, or -1.
var digitValue [256]int8

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		digitValue[Alphabet[i]] = int8(i)
	}
}

// Encode returns the minimal-length base-62 representation of n.
// Encode(0) == "0"; there is no padding.
func Encode(n uint64) string {
	if n == 0 {
		return "0"
	}
	// 64-bit values need at most 11 base-62 digits.
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// Decode is the inverse of Encode on valid inputs. It rejects the empty
// string, symbols outside the alphabet, inputs longer than MaxCodeLen, and
// values that overflow uint64.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("base62: empty input")
	}
	if len(s) > MaxCodeLen {
		return 0, fmt.Errorf("base62: input %q exceeds %d symbols", s, MaxCodeLen)
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		d := digitValue[s[i]]
		if d < 0 {
			return 0, fmt.Errorf("base62: invalid symbol %q in %q", s[i], s)
		}
		if n > (math.MaxUint64-uint64(d))/base {
			return 0, fmt.Errorf("base62: %q overflows uint64", s)
		}
		n = n*base + uint64(d)
	}
	return n, nil
}

// Valid reports whether s is a well-formed short code: 1..MaxCodeLen symbols,
// all from the alphabet.
func Valid(s string) bool {
	if s == "" || len(s) > MaxCodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if digitValue[s[i]] < 0 {
			return false
		}
	}
	return true
}
