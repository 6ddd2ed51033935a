// Package store persists notes in LevelDB. Records are RLP-encoded and, when
// the store is opened with a passphrase, sealed with ChaCha20-Poly1305.
// Notes are never deleted.
package store

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/kysee/zkpool/zk-pool/crypto"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	notePrefix = []byte("note/")
	saltKey    = []byte("meta/salt")
	checkKey   = []byte("meta/check")
	checkValue = []byte("zkpool")
)

type Store struct {
	mu     sync.Mutex
	db     *leveldb.DB
	sealer *crypto.Sealer
}

// Open opens or creates the store at path. An empty passphrase stores notes
// in clear.
func Open(path, passphrase string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &ldb_opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open note store %s: %w", path, err)
	}
	return setup(db, passphrase)
}

// OpenMemory opens a store that lives only in memory.
func OpenMemory(passphrase string) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return setup(db, passphrase)
}

func setup(db *leveldb.DB, passphrase string) (*Store, error) {
	s := &Store{db: db}
	if passphrase == "" {
		return s, nil
	}
	salt, err := db.Get(saltKey, nil)
	fresh := errors.Is(err, leveldb.ErrNotFound)
	if fresh {
		if salt, err = crypto.NewSalt(); err != nil {
			db.Close()
			return nil, err
		}
	} else if err != nil {
		db.Close()
		return nil, err
	}
	if s.sealer, err = crypto.NewSealer(passphrase, salt); err != nil {
		db.Close()
		return nil, err
	}

	if fresh {
		sealed, err := s.sealer.Seal(checkValue, checkKey)
		if err == nil {
			b := new(leveldb.Batch)
			b.Put(saltKey, salt)
			b.Put(checkKey, sealed)
			err = db.Write(b, nil)
		}
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}

	sealed, err := db.Get(checkKey, nil)
	if err == nil {
		_, err = s.sealer.Open(sealed, checkKey)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unlock note store: %w", err)
	}
	return s, nil
}

func noteKey(commitment *big.Int) []byte {
	return append(append([]byte(nil), notePrefix...), fmt.Sprintf("%064x", commitment)...)
}

// Put inserts or overwrites the note keyed by its commitment.
func (s *Store) Put(n *types.Note) error {
	if n.Commitment == nil {
		return errors.New("note has no commitment")
	}
	key := noteKey(n.Commitment)
	val := n.Bytes()
	if s.sealer != nil {
		var err error
		if val, err = s.sealer.Seal(val, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(key, val, &ldb_opt.WriteOptions{Sync: true})
}

func (s *Store) Get(commitment *big.Int) (*types.Note, error) {
	key := noteKey(commitment)
	val, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%064x: %w", commitment, types.ErrNoteNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.decode(key, val)
}

func (s *Store) decode(key, val []byte) (*types.Note, error) {
	if s.sealer != nil {
		var err error
		if val, err = s.sealer.Open(val, key); err != nil {
			return nil, err
		}
	}
	return types.DecodeNote(val)
}

// List returns the notes with any of the given statuses, or all notes,
// oldest first.
func (s *Store) List(statuses ...types.NoteStatus) ([]*types.Note, error) {
	want := make(map[types.NoteStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	iter := s.db.NewIterator(util.BytesPrefix(notePrefix), nil)
	defer iter.Release()

	var out []*types.Note
	for iter.Next() {
		// iterator buffers are reused by Next
		key := append([]byte(nil), iter.Key()...)
		val := append([]byte(nil), iter.Value()...)
		n, err := s.decode(key, val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if len(want) == 0 || want[n.Status] {
			out = append(out, n)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
