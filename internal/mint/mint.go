// Package mint derives stable opaque placeholders for sensitive values.
// Derivation is a keyed MAC over (session, entity type, original), so the
// same original always mints the same placeholder within a session while
// different sessions yield unrelated placeholders.
package mint

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/vault"
	"golang.org/x/crypto/blake2b"
)

// tagBytes is the MAC prefix length used for the placeholder tag; 8 bytes
// of keyed BLAKE2b gives a 16-hex-char tag.
const tagBytes = 8

// saltBudget bounds collision re-derivation. Exhaustion is practically
// unreachable given the tag key space.
const saltBudget = 8

// ErrSaltBudgetExhausted is returned when every salted derivation collided.
var ErrSaltBudgetExhausted = errors.New("mint: salt budget exhausted")

// Mint derives placeholders and records them in the vault.
type Mint struct {
	key   []byte
	store vault.Store
}

// New creates a Mint with the given derivation key. The key comes from
// deployment configuration and is normalized to 32 bytes; rotation is a
// process restart with a new key, which invalidates nothing because vault
// state never outlives a session.
func New(key []byte, store vault.Store) (*Mint, error) {
	if len(key) == 0 {
		return nil, errors.New("mint: derivation key is required")
	}
	normalized := sha256.Sum256(key)
	return &Mint{key: normalized[:], store: store}, nil
}

// derive computes the placeholder tag for (session, type, original, salt).
func (m *Mint) derive(session string, typ entity.Type, original string, salt uint32) string {
	h, err := blake2b.New(tagBytes, m.key)
	if err != nil {
		// Key is normalized to 32 bytes in New; blake2b only rejects
		// oversized keys.
		panic(err)
	}
	h.Write([]byte(session))
	h.Write([]byte{0})
	h.Write([]byte(typ.String()))
	h.Write([]byte{0})
	h.Write([]byte(original))
	if salt > 0 {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], salt)
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Place mints (or reuses) the placeholder for an original value and records
// the mapping in the given namespace.
//
// Secret-class values must never reach the mint; callers scrub them before
// derivation. The vault's lookup-before-write check surfaces tag collisions
// with a different original, which are resolved by salted re-derivation:
// two distinct originals never share a placeholder within one session.
func (m *Mint) Place(ctx context.Context, session string, ns vault.Namespace, typ entity.Type, original string) (string, error) {
	if typ == entity.TypeSecret {
		return "", errors.New("mint: secret-class values are never minted")
	}

	for salt := uint32(0); salt <= saltBudget; salt++ {
		placeholder := entity.Placeholder(typ, m.derive(session, typ, original, salt))
		got, err := m.store.Upsert(ctx, vault.MappingRecord{
			Session:     session,
			Namespace:   ns,
			EntityType:  typ,
			Placeholder: placeholder,
			Original:    original,
		})
		if errors.Is(err, vault.ErrPlaceholderTaken) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("mint: %w", err)
		}
		return got, nil
	}
	return "", ErrSaltBudgetExhausted
}
