package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ID is a 32-byte digest. Fingerprints, principal pseudonyms and ledger
// values all travel as IDs.
type ID [32]byte

// Empty is the zero-value ID (all zeros)
var Empty ID

// NewID generates a new ID by hashing input bytes
func NewID(data []byte) ID {
	return ID(sha256.Sum256(data))
}

// FromString parses a 64-character hex string (optionally 0x-prefixed) into an ID.
func FromString(s string) (ID, error) {
	var id ID
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("ids: want %d hex characters, got %d", hex.EncodedLen(len(id)), len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("ids: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex encoding.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsEmpty reports whether id is all zeros.
func (id ID) IsEmpty() bool {
	return id == Empty
}

// MarshalText encodes the ID as lowercase hex.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a hex ID.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IDFromString creates an ID from a string (using SHA-256)
func IDFromString(s string) ID {
	return NewID([]byte(s))
}
