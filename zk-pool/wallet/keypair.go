// Package wallet signs pool instructions with a local ed25519 key and sends
// them through the rpc executor.
package wallet

import (
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kysee/zkpool/zk-pool/types"
	"golang.org/x/crypto/ed25519"
)

type Keypair struct {
	priv ed25519.PrivateKey
}

func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv}, nil
}

func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wrong seed length: expected(%d), got(%d)", ed25519.SeedSize, len(seed))
	}
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// LoadKeypair reads a key file holding the 64-byte private key as a JSON
// array of numbers.
func LoadKeypair(path string) (*Keypair, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []byte
	var nums []int
	if err := json.Unmarshal(bz, &nums); err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	for _, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("key file %s: byte out of range", path)
		}
		raw = append(raw, byte(n))
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(raw))
	}
	kp, err := KeypairFromSeed(raw[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if string(kp.priv[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("key file %s: public key does not match seed", path)
	}
	return kp, nil
}

func (k *Keypair) Address() types.Address {
	var a types.Address
	copy(a[:], k.priv.Public().(ed25519.PublicKey))
	return a
}

func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}
