package chaintest

import (
	"math/big"
	"sync"

	"github.com/kysee/zkpool/zk-pool/accounts"
	"github.com/kysee/zkpool/zk-pool/field"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Tree is an append-only Merkle tree of commitments hashed with H2. It
// produces the deposit events the pool program would emit.
type Tree struct {
	mu     sync.Mutex
	depth  int
	hasher types.Hasher
	zeros  []*big.Int
	filled []*big.Int
	next   uint32
	root   *big.Int
}

func NewTree(depth int, h types.Hasher) *Tree {
	if h == nil {
		h = types.DefaultHasher
	}
	t := &Tree{
		depth:  depth,
		hasher: h,
		zeros:  make([]*big.Int, depth+1),
		filled: make([]*big.Int, depth),
	}
	t.zeros[0] = new(big.Int)
	for i := 1; i <= depth; i++ {
		t.zeros[i] = h.Hash2(t.zeros[i-1], t.zeros[i-1])
	}
	copy(t.filled, t.zeros[:depth])
	t.root = t.zeros[depth]
	return t
}

// Root is the current root; an empty tree has the all-zero subtree root.
func (t *Tree) Root() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.root)
}

// Insert appends commitment and returns the event describing its position.
func (t *Tree) Insert(commitment *big.Int) *accounts.DepositEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := &accounts.DepositEvent{
		LeafIndex: t.next,
		Siblings:  make([][accounts.RootSize]byte, t.depth),
		Bits:      make([]byte, t.depth),
	}
	cur := commitment
	idx := t.next
	for i := 0; i < t.depth; i++ {
		var sibling *big.Int
		if idx&1 == 0 {
			t.filled[i] = cur
			sibling = t.zeros[i]
			cur = t.hasher.Hash2(cur, sibling)
		} else {
			sibling = t.filled[i]
			ev.Bits[i] = 1
			cur = t.hasher.Hash2(sibling, cur)
		}
		ev.Siblings[i] = mustEncode(sibling)
		idx >>= 1
	}
	t.next++
	t.root = cur
	ev.Root = mustEncode(cur)
	return ev
}

// PathRoot folds a leaf up its path the way the withdraw circuit does.
func PathRoot(h types.Hasher, leaf *big.Int, path []*big.Int, bits []byte) *big.Int {
	cur := leaf
	for i, s := range path {
		if bits[i] == 0 {
			cur = h.Hash2(cur, s)
		} else {
			cur = h.Hash2(s, cur)
		}
	}
	return cur
}

func mustEncode(x *big.Int) [field.Size]byte {
	b, err := field.ToFixedWidthBE(x)
	if err != nil {
		panic(err)
	}
	return b
}
