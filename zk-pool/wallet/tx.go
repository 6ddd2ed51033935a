package wallet

import (
	"fmt"

	"github.com/kysee/zkpool/zk-pool/instruction"
	"github.com/kysee/zkpool/zk-pool/types"
)

type accountKey struct {
	addr     types.Address
	signer   bool
	writable bool
}

// CompileMessage lays out a single-instruction legacy message: header,
// account keys (writable signers, readonly signers, writable, readonly),
// recent blockhash and the compiled instruction. payer is always first.
func CompileMessage(ix *instruction.Instruction, payer types.Address, blockhash types.Address) ([]byte, error) {
	keys := []*accountKey{{addr: payer, signer: true, writable: true}}
	index := map[types.Address]*accountKey{payer: keys[0]}
	add := func(a types.Address, signer, writable bool) {
		if k, ok := index[a]; ok {
			k.signer = k.signer || signer
			k.writable = k.writable || writable
			return
		}
		k := &accountKey{addr: a, signer: signer, writable: writable}
		index[a] = k
		keys = append(keys, k)
	}
	for _, m := range ix.Accounts {
		add(m.Address, m.Signer, m.Writable)
	}
	add(ix.ProgramID, false, false)

	var ordered []*accountKey
	for _, class := range [][2]bool{{true, true}, {true, false}, {false, true}, {false, false}} {
		for _, k := range keys {
			if k.signer == class[0] && k.writable == class[1] {
				ordered = append(ordered, k)
			}
		}
	}
	if len(ordered) > 255 {
		return nil, fmt.Errorf("too many accounts: %d", len(ordered))
	}

	var numSigners, roSigned, roUnsigned byte
	pos := make(map[types.Address]byte, len(ordered))
	for i, k := range ordered {
		pos[k.addr] = byte(i)
		switch {
		case k.signer && !k.writable:
			numSigners++
			roSigned++
		case k.signer:
			numSigners++
		case !k.writable:
			roUnsigned++
		}
	}

	msg := []byte{numSigners, roSigned, roUnsigned}
	msg = appendCompactU16(msg, len(ordered))
	for _, k := range ordered {
		msg = append(msg, k.addr[:]...)
	}
	msg = append(msg, blockhash[:]...)

	msg = appendCompactU16(msg, 1)
	msg = append(msg, pos[ix.ProgramID])
	msg = appendCompactU16(msg, len(ix.Accounts))
	for _, m := range ix.Accounts {
		msg = append(msg, pos[m.Address])
	}
	msg = appendCompactU16(msg, len(ix.Data))
	msg = append(msg, ix.Data...)
	return msg, nil
}

// SignTransaction compiles ix and signs it with k as the only signer.
func SignTransaction(k *Keypair, ix *instruction.Instruction, blockhash types.Address) ([]byte, error) {
	for _, m := range ix.Accounts {
		if m.Signer && m.Address != k.Address() {
			return nil, fmt.Errorf("instruction needs signer %s", m.Address)
		}
	}
	msg, err := CompileMessage(ix, k.Address(), blockhash)
	if err != nil {
		return nil, err
	}
	tx := appendCompactU16(nil, 1)
	tx = append(tx, k.Sign(msg)...)
	return append(tx, msg...), nil
}

func appendCompactU16(b []byte, n int) []byte {
	for {
		c := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
