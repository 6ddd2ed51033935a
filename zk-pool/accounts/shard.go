package accounts

import (
	"encoding/binary"
)

const shardHeaderSize = 16

type ShardEntry struct {
	Root     [RootSize]byte
	Sequence uint64
}

type ShardAccount struct {
	Version   uint64
	Index     uint32
	LocalHead uint32
	Entries   []ShardEntry
}

func ShardAccountSize(capacity int) int {
	return shardHeaderSize + capacity*ShardEntrySize
}

func DecodeShard(data []byte, capacity int) (*ShardAccount, error) {
	r := &reader{layout: "shard account", data: data}
	if err := r.need(ShardAccountSize(capacity)); err != nil {
		return nil, err
	}
	s := &ShardAccount{Entries: make([]ShardEntry, capacity)}
	s.Version, _ = r.u64()
	s.Index, _ = r.u32()
	s.LocalHead, _ = r.u32()
	for i := 0; i < capacity; i++ {
		s.Entries[i].Root, _ = r.root()
		s.Entries[i].Sequence, _ = r.u64()
	}
	return s, nil
}

func (s *ShardAccount) Encode() []byte {
	out := make([]byte, ShardAccountSize(len(s.Entries)))
	binary.LittleEndian.PutUint64(out[0:], s.Version)
	binary.LittleEndian.PutUint32(out[8:], s.Index)
	binary.LittleEndian.PutUint32(out[12:], s.LocalHead)
	for i, e := range s.Entries {
		off := shardHeaderSize + i*ShardEntrySize
		copy(out[off:], e.Root[:])
		binary.LittleEndian.PutUint64(out[off+RootSize:], e.Sequence)
	}
	return out
}

// HasRoot scans initialized entries; sequence 0 marks an empty slot.
func (s *ShardAccount) HasRoot(root [RootSize]byte) bool {
	if isZero(root) {
		return false
	}
	for _, e := range s.Entries {
		if e.Sequence == 0 {
			continue
		}
		if e.Root == root {
			return true
		}
	}
	return false
}

// Push writes root at the local head with the given global sequence number.
func (s *ShardAccount) Push(root [RootSize]byte, seq uint64) {
	if len(s.Entries) == 0 {
		return
	}
	s.Entries[int(s.LocalHead)%len(s.Entries)] = ShardEntry{Root: root, Sequence: seq}
	s.LocalHead = uint32((int(s.LocalHead) + 1) % len(s.Entries))
}
