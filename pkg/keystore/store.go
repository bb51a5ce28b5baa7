// Package keystore holds the public keys used to verify peers.
//
// A store maps an address lookup key (the external component when present,
// otherwise the full address) to an ECDSA public key. Stores are loaded from
// a flat record file:
//
//	[3 bytes address][u16 big-endian length][length bytes SPKI DER]
//
// repeated until end of file.
package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

var (
	ErrCorruptStore = errors.New("corrupt key store")
)

// Store is a concurrency-safe address to public key map.
type Store struct {
	keys map[string]*ecdsa.PublicKey
	mu   sync.RWMutex

	path     string
	loadOnce sync.Once
	loadErr  error
}

// NewMemory creates an empty store that is not backed by a file.
func NewMemory() *Store {
	s := &Store{keys: make(map[string]*ecdsa.PublicKey)}
	s.loadOnce.Do(func() {})
	return s
}

// Open creates a store backed by path without reading it. The file is read
// on the first Warm or Lookup call.
func Open(path string) *Store {
	return &Store{
		keys: make(map[string]*ecdsa.PublicKey),
		path: path,
	}
}

// Load opens a store and reads it immediately.
func Load(path string) (*Store, error) {
	s := Open(path)
	if err := s.Warm(); err != nil {
		return nil, err
	}
	return s, nil
}

// Warm reads the backing file if that has not happened yet. It returns the
// same error on every call after a failed load.
func (s *Store) Warm() error {
	s.loadOnce.Do(func() {
		keys, err := readFile(s.path)
		if err != nil {
			s.loadErr = err
			return
		}

		s.mu.Lock()
		for k, v := range keys {
			s.keys[k] = v
		}
		s.mu.Unlock()
	})
	return s.loadErr
}

// Lookup returns the public key registered for addr.
func (s *Store) Lookup(addr protocol.Address) (*ecdsa.PublicKey, bool) {
	if err := s.Warm(); err != nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[addr.Key()]
	return key, ok
}

// Add registers key under addr, replacing any previous entry.
func (s *Store) Add(addr protocol.Address, key *ecdsa.PublicKey) error {
	if key == nil {
		return fmt.Errorf("nil public key for %s", addr)
	}
	if err := s.Warm(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[addr.Key()] = key
	return nil
}

// Len returns the number of registered keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Addresses returns the registered lookup keys in sorted order.
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.keys))
	for k := range s.keys {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Path returns the backing file, empty for memory stores.
func (s *Store) Path() string {
	return s.path
}
