// Package secretcache is the narrow origin secret/key store spec.md §1
// keeps out of scope beyond "fetch a secret key and hand it to a worker."
// internal/workermgr calls Decrypt before every StartJob; a failure to
// decrypt one secret is logged and skipped rather than failing dispatch
// (spec.md §4.E).
package secretcache

import (
	"context"
	"log"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/distr1/buildorch/pb/worker"
)

// KeySize is the NaCl secretbox key size used to seal/open each origin's
// secrets.
const KeySize = 32

// sealed is one encrypted secret as held by the cache: name plus a
// secretbox-sealed blob (24-byte nonce prefix + ciphertext).
type sealed struct {
	name string
	blob []byte
}

// Cache holds each origin's encryption key and its sealed secrets
// in-process. It is populated by Put (called when an origin's secrets are
// registered or rotated) and consumed by Decrypt.
type Cache struct {
	mu      sync.RWMutex
	log     *log.Logger
	keys    map[string][KeySize]byte
	secrets map[string][]sealed
}

// New returns an empty Cache.
func New(log *log.Logger) *Cache {
	return &Cache{
		log:     log,
		keys:    make(map[string][KeySize]byte),
		secrets: make(map[string][]sealed),
	}
}

// Put registers origin's encryption key and the sealed secrets available
// for it, replacing whatever was previously cached.
func (c *Cache) Put(origin string, key [KeySize]byte, names []string, blobs [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[origin] = key
	s := make([]sealed, 0, len(names))
	for i, n := range names {
		s = append(s, sealed{name: n, blob: blobs[i]})
	}
	c.secrets[origin] = s
}

// Seal encrypts content under key with the caller-supplied nonce and
// returns the nonce followed by the ciphertext, the blob layout Put stores
// and Decrypt opens. It is not part of the worker-manager-facing Decrypt
// path.
func Seal(key [KeySize]byte, nonce [24]byte, content []byte) []byte {
	return secretbox.Seal(nonce[:], content, &nonce, &key)
}

// Decrypt returns every secret registered for origin, decrypted. Decrypt
// failures for individual secrets are logged and the secret is skipped —
// they never fail the whole call (spec.md §4.E: "decryption failures of
// individual secrets are logged and skipped; they do not fail the
// dispatch").
func (c *Cache) Decrypt(ctx context.Context, origin string) ([]*worker.Secret, error) {
	c.mu.RLock()
	key, ok := c.keys[origin]
	entries := append([]sealed(nil), c.secrets[origin]...)
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	out := make([]*worker.Secret, 0, len(entries))
	for _, e := range entries {
		if len(e.blob) < 24 {
			c.log.Printf("secretcache: secret %s/%s: sealed blob too short", origin, e.name)
			continue
		}
		var nonce [24]byte
		copy(nonce[:], e.blob[:24])
		content, ok := secretbox.Open(nil, e.blob[24:], &nonce, &key)
		if !ok {
			c.log.Printf("secretcache: secret %s/%s: decryption failed", origin, e.name)
			continue
		}
		out = append(out, &worker.Secret{Name: e.name, Content: content})
	}
	return out, nil
}
