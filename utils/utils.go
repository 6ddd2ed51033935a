package utils

import (
	"hash"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// MiMCHasher returns the MiMC sponge over the BN254 scalar field.
func MiMCHasher() hash.Hash {
	return mimc.NewMiMC()
}

// Hash1 is the single-input hash used for nullifier hashes: H(nullifier).
func Hash1(x *big.Int) *big.Int {
	return hashElements(x)
}

// Hash2 is the double-input hash used for commitments: H(nullifier, secret).
func Hash2(x, y *big.Int) *big.Int {
	return hashElements(x, y)
}

func hashElements(ins ...*big.Int) *big.Int {
	hasher := MiMCHasher()
	for _, in := range ins {
		var elem fr.Element
		elem.SetBigInt(in)
		bz := elem.Marshal()
		if _, err := hasher.Write(bz); err != nil {
			panic(err)
		}
	}
	var out fr.Element
	out.SetBytes(hasher.Sum(nil))
	return out.BigInt(new(big.Int))
}

// RandFieldElement returns a uniformly random element of the BN254 scalar field.
func RandFieldElement() (*big.Int, error) {
	var elem fr.Element
	if _, err := elem.SetRandom(); err != nil {
		return nil, err
	}
	return elem.BigInt(new(big.Int)), nil
}
