package accounts

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

const programDataPrefix = "Program data: "

var DepositEventDiscriminator = Discriminator("event", "DepositEvent")

// DepositEvent is emitted by a deposit and carries the note's Merkle position.
type DepositEvent struct {
	LeafIndex uint32
	Root      [RootSize]byte
	Siblings  [][RootSize]byte
	Bits      []byte
}

func DepositEventSize(depth int) int {
	return 8 + 4 + RootSize + depth*RootSize + depth
}

func DecodeDepositEvent(data []byte, depth int) (*DepositEvent, error) {
	r := &reader{layout: "deposit event", data: data}
	if err := r.need(DepositEventSize(depth)); err != nil {
		return nil, err
	}
	disc, _ := r.bytes(8)
	if !bytes.Equal(disc, DepositEventDiscriminator[:]) {
		return nil, fmt.Errorf("deposit event: unexpected discriminator %x", disc)
	}
	ev := &DepositEvent{
		Siblings: make([][RootSize]byte, depth),
		Bits:     make([]byte, depth),
	}
	ev.LeafIndex, _ = r.u32()
	ev.Root, _ = r.root()
	for i := 0; i < depth; i++ {
		ev.Siblings[i], _ = r.root()
	}
	bits, _ := r.bytes(depth)
	copy(ev.Bits, bits)
	for i, b := range ev.Bits {
		if b > 1 {
			return nil, fmt.Errorf("deposit event: path bit %d is %d", i, b)
		}
	}
	return ev, nil
}

func (ev *DepositEvent) Encode() []byte {
	depth := len(ev.Siblings)
	out := make([]byte, 0, DepositEventSize(depth))
	out = append(out, DepositEventDiscriminator[:]...)
	out = binary.LittleEndian.AppendUint32(out, ev.LeafIndex)
	out = append(out, ev.Root[:]...)
	for _, s := range ev.Siblings {
		out = append(out, s[:]...)
	}
	bits := make([]byte, depth)
	copy(bits, ev.Bits)
	return append(out, bits...)
}

// FindDepositEvent returns the first deposit event found in transaction logs.
func FindDepositEvent(logs []string, depth int) (*DepositEvent, error) {
	for _, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil || len(data) < 8 || !bytes.Equal(data[:8], DepositEventDiscriminator[:]) {
			continue
		}
		return DecodeDepositEvent(data, depth)
	}
	return nil, fmt.Errorf("deposit event not found in %d log lines", len(logs))
}

// ProgramDataLog renders an event the way the runtime logs it.
func ProgramDataLog(data []byte) string {
	return programDataPrefix + base64.StdEncoding.EncodeToString(data)
}
