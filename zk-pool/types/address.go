package types

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Address is a 32-byte account identifier, rendered in base58.
type Address [32]byte

// SystemProgram is the all-zero default account.
var SystemProgram Address

func ParseAddress(s string) (Address, error) {
	var a Address
	bz := base58.Decode(s)
	if len(bz) != len(a) {
		return a, fmt.Errorf("wrong address length: expected(%d), got(%d): %q", len(a), len(bz), s)
	}
	copy(a[:], bz)
	return a, nil
}

func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) IsZero() bool {
	return a == SystemProgram
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
