// Package accounts decodes the fixed binary layouts of the pool's on-chain
// accounts and events. Every decoder checks lengths before reading.
package accounts

import (
	"encoding/binary"
	"fmt"

	sha256 "github.com/minio/sha256-simd"
)

const (
	RootSize       = 32
	HistorySize    = 256
	ShardEntrySize = 40
)

// LayoutError reports input too short for a layout.
type LayoutError struct {
	Layout string
	Want   int
	Got    int
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("%s: need %d bytes, got %d", e.Layout, e.Want, e.Got)
}

// Discriminator is the 8-byte method/account/event tag: sha256("<namespace>:<name>")[:8].
func Discriminator(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// reader walks a byte slice at explicit offsets.
type reader struct {
	layout string
	data   []byte
	off    int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.data) {
		return &LayoutError{Layout: r.layout, Want: r.off + n, Got: len(r.data)}
	}
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) root() (out [RootSize]byte, err error) {
	b, err := r.bytes(RootSize)
	if err != nil {
		return
	}
	copy(out[:], b)
	return
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func isZero(b [RootSize]byte) bool {
	return b == [RootSize]byte{}
}
