package accounts

import (
	"encoding/binary"
)

// State account offsets.
const (
	stateDiscriminatorOffset = 0
	stateAuthorityOffset     = 8
	stateDenominationOffset  = 40
	stateNextIndexOffset     = 48
	stateCursorOffset        = 56
	StateCurrentRootOffset   = 64
	StateHistoryOffset       = StateCurrentRootOffset + RootSize
	StateAccountSize         = StateHistoryOffset + HistorySize*RootSize
)

type StateAccount struct {
	Discriminator [8]byte
	Authority     [32]byte
	Denomination  uint64
	NextIndex     uint64
	HistoryCursor uint32
	CurrentRoot   [RootSize]byte
	History       [HistorySize][RootSize]byte
}

func DecodeState(data []byte) (*StateAccount, error) {
	r := &reader{layout: "state account", data: data}
	if err := r.need(StateAccountSize); err != nil {
		return nil, err
	}
	s := new(StateAccount)
	b, _ := r.bytes(8)
	copy(s.Discriminator[:], b)
	b, _ = r.bytes(32)
	copy(s.Authority[:], b)
	s.Denomination, _ = r.u64()
	s.NextIndex, _ = r.u64()
	s.HistoryCursor, _ = r.u32()
	_ = r.skip(4)
	s.CurrentRoot, _ = r.root()
	for i := 0; i < HistorySize; i++ {
		s.History[i], _ = r.root()
	}
	return s, nil
}

func (s *StateAccount) Encode() []byte {
	out := make([]byte, StateAccountSize)
	copy(out[stateDiscriminatorOffset:], s.Discriminator[:])
	copy(out[stateAuthorityOffset:], s.Authority[:])
	binary.LittleEndian.PutUint64(out[stateDenominationOffset:], s.Denomination)
	binary.LittleEndian.PutUint64(out[stateNextIndexOffset:], s.NextIndex)
	binary.LittleEndian.PutUint32(out[stateCursorOffset:], s.HistoryCursor)
	copy(out[StateCurrentRootOffset:], s.CurrentRoot[:])
	for i := range s.History {
		copy(out[StateHistoryOffset+i*RootSize:], s.History[i][:])
	}
	return out
}

// HasRoot checks the current root first, then the history ring, skipping
// uninitialized all-zero slots.
func (s *StateAccount) HasRoot(root [RootSize]byte) bool {
	if isZero(root) {
		return false
	}
	if s.CurrentRoot == root {
		return true
	}
	for i := range s.History {
		if isZero(s.History[i]) {
			continue
		}
		if s.History[i] == root {
			return true
		}
	}
	return false
}

// PushRoot records a new current root the way the program does.
func (s *StateAccount) PushRoot(root [RootSize]byte) {
	s.CurrentRoot = root
	s.History[s.HistoryCursor%HistorySize] = root
	s.HistoryCursor = (s.HistoryCursor + 1) % HistorySize
}
