// Package b58 implements the Bitcoin-alphabet base58 codec used by every
// byte field on the wire (§6 of the spec this module implements). It is a
// from-scratch implementation rather than a wrapper over a third-party
// base58 package: leading-zero framing and malformed-input rejection must
// match byte-for-byte across language ports, and an external codec's exact
// edge-case behavior is not a contract this module controls.
package b58

import (
	"math/big"

	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var decodeTable [256]int8

func init() {
	for i := range decodeTable {
		decodeTable[i] = -1
	}
	for i, c := range alphabet {
		decodeTable[byte(c)] = int8(i)
	}
}

var (
	radix   = big.NewInt(58)
	bigZero = big.NewInt(0)
)

// Encode returns the base58 encoding of data. Leading zero bytes are
// preserved as leading '1' characters (Bitcoin convention).
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	leadingZeros := 0
	for leadingZeros < len(data) && data[leadingZeros] == 0 {
		leadingZeros++
	}

	num := new(big.Int).SetBytes(data)
	mod := new(big.Int)
	var out []byte
	for num.Cmp(bigZero) > 0 {
		num.DivMod(num, radix, mod)
		out = append(out, alphabet[mod.Int64()])
	}

	result := make([]byte, 0, leadingZeros+len(out))
	for i := 0; i < leadingZeros; i++ {
		result = append(result, alphabet[0])
	}
	for i := len(out) - 1; i >= 0; i-- {
		result = append(result, out[i])
	}

	return string(result)
}

// Decode reverses Encode. Any character outside the Bitcoin alphabet
// yields cryptoerr.KindBase58Invalid.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}

	leadingOnes := 0
	for leadingOnes < len(s) && s[leadingOnes] == '1' {
		leadingOnes++
	}

	num := new(big.Int)
	mul := new(big.Int)
	for i := 0; i < len(s); i++ {
		digit := decodeTable[s[i]]
		if digit < 0 {
			return nil, cryptoerr.New(cryptoerr.KindBase58Invalid, "invalid base58 character")
		}
		num.Mul(num, radix)
		num.Add(num, mul.SetInt64(int64(digit)))
	}

	decoded := num.Bytes()
	out := make([]byte, leadingOnes+len(decoded))
	copy(out[leadingOnes:], decoded)
	return out, nil
}
