package field

import (
	"fmt"
	"math/big"

	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

const ProofSize = 256

type G1 struct {
	X, Y *big.Int
}

// G2 holds an Fp2 point with each coordinate as (C0 low limb, C1 high limb).
type G2 struct {
	X0, X1 *big.Int
	Y0, Y1 *big.Int
}

type Proof struct {
	A G1
	B G2
	C G1
}

// SerializeProof lays the proof out as A (64) || B (128) || C (64).
// A.y is negated mod q and every B coordinate is written high limb first,
// which is the order the on-chain pairing check reads.
func SerializeProof(p Proof) ([ProofSize]byte, error) {
	var out [ProofSize]byte

	if p.A.Y == nil {
		return out, fmt.Errorf("%w: nil A.y", ErrFieldOverflow)
	}
	negY := new(big.Int).Mod(p.A.Y, baseModulus)
	negY.Sub(baseModulus, negY)
	negY.Mod(negY, baseModulus)

	coords := []*big.Int{
		p.A.X, negY,
		p.B.X1, p.B.X0, p.B.Y1, p.B.Y0,
		p.C.X, p.C.Y,
	}
	for i, c := range coords {
		bz, err := encodeBelow(c, baseModulus)
		if err != nil {
			return out, fmt.Errorf("proof coordinate %d: %w", i, err)
		}
		copy(out[i*Size:], bz[:])
	}
	return out, nil
}

// ProofFromStrings parses the decimal-string proof returned by the proving
// engine: pi_a = [x, y, 1], pi_b = [[x.c0, x.c1], [y.c0, y.c1], [1, 0]], pi_c = [x, y, 1].
func ProofFromStrings(piA []string, piB [][]string, piC []string) (Proof, error) {
	var p Proof
	if len(piA) < 2 || len(piC) < 2 || len(piB) < 2 || len(piB[0]) < 2 || len(piB[1]) < 2 {
		return p, fmt.Errorf("malformed proof: pi_a=%d pi_b=%d pi_c=%d", len(piA), len(piB), len(piC))
	}
	vals := []string{piA[0], piA[1], piB[0][0], piB[0][1], piB[1][0], piB[1][1], piC[0], piC[1]}
	ints := make([]*big.Int, len(vals))
	for i, s := range vals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return p, fmt.Errorf("malformed proof coordinate %q", s)
		}
		ints[i] = v
	}
	p.A = G1{X: ints[0], Y: ints[1]}
	p.B = G2{X0: ints[2], X1: ints[3], Y0: ints[4], Y1: ints[5]}
	p.C = G1{X: ints[6], Y: ints[7]}
	return p, nil
}

// ProofFromGnark converts a gnark Groth16 proof over BN254.
func ProofFromGnark(proof *groth16_bn254.Proof) Proof {
	return Proof{
		A: G1{
			X: proof.Ar.X.BigInt(new(big.Int)),
			Y: proof.Ar.Y.BigInt(new(big.Int)),
		},
		B: G2{
			X0: proof.Bs.X.A0.BigInt(new(big.Int)),
			X1: proof.Bs.X.A1.BigInt(new(big.Int)),
			Y0: proof.Bs.Y.A0.BigInt(new(big.Int)),
			Y1: proof.Bs.Y.A1.BigInt(new(big.Int)),
		},
		C: G1{
			X: proof.Krs.X.BigInt(new(big.Int)),
			Y: proof.Krs.Y.BigInt(new(big.Int)),
		},
	}
}
