// Package field encodes BN254 field elements, addresses and Groth16 proofs into
// the fixed-width big-endian layouts the on-chain verifier accepts.
package field

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const Size = 32

var ErrFieldOverflow = errors.New("value is not a canonical field element")

var (
	// scalarModulus is the prime of the field public and private inputs live in.
	scalarModulus = fr.Modulus()
	// baseModulus is the prime of the curve coordinates.
	baseModulus = fp.Modulus()
)

func ScalarModulus() *big.Int {
	return new(big.Int).Set(scalarModulus)
}

func BaseModulus() *big.Int {
	return new(big.Int).Set(baseModulus)
}

// ToFixedWidthBE encodes x into 32 big-endian bytes. x must be in [0, r).
func ToFixedWidthBE(x *big.Int) ([Size]byte, error) {
	return encodeBelow(x, scalarModulus)
}

// FromFixedWidthBE is the inverse of ToFixedWidthBE.
func FromFixedWidthBE(b [Size]byte) (*big.Int, error) {
	x := new(big.Int).SetBytes(b[:])
	if x.Cmp(scalarModulus) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrFieldOverflow, x.String())
	}
	return x, nil
}

// Reduce returns x mod r as a new value.
func Reduce(x *big.Int) *big.Int {
	return new(big.Int).Mod(x, scalarModulus)
}

// PackU64BE places v in the low 8 bytes of a 32-byte big-endian block.
func PackU64BE(v uint64) [Size]byte {
	var out [Size]byte
	for i := 0; i < 8; i++ {
		out[Size-1-i] = byte(v >> (8 * i))
	}
	return out
}

// SplitAddress splits a 32-byte identifier into two field elements holding the
// high and low 16-byte halves, each left padded with zeros. A raw identifier
// can exceed r, so it never enters a circuit as a single element.
func SplitAddress(addr [Size]byte) (hi, lo [Size]byte) {
	copy(hi[16:], addr[:16])
	copy(lo[16:], addr[16:])
	return
}

// SplitAddressInts is SplitAddress returning integers.
func SplitAddressInts(addr [Size]byte) (hi, lo *big.Int) {
	h, l := SplitAddress(addr)
	return new(big.Int).SetBytes(h[:]), new(big.Int).SetBytes(l[:])
}

func encodeBelow(x, modulus *big.Int) ([Size]byte, error) {
	var out [Size]byte
	if x == nil {
		return out, fmt.Errorf("%w: nil", ErrFieldOverflow)
	}
	if x.Sign() < 0 || x.Cmp(modulus) >= 0 {
		return out, fmt.Errorf("%w: %s", ErrFieldOverflow, x.String())
	}
	x.FillBytes(out[:])
	return out, nil
}
