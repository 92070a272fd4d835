package types

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// GenesisHash is the well-known prev_hash of the first audit entry.
var GenesisHash = make([]byte, sha256.Size)

// AuditEntry is one link in the append-only hash chain of privileged
// actions and security-relevant failures. Hash covers PrevHash and every
// content field, so editing any historical entry breaks verification of
// everything after it.
type AuditEntry struct {
	EntryID   int64     `json:"entry_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	ObjectRef string    `json:"object_ref"`
	Details   string    `json:"details,omitempty"`
	PrevHash  []byte    `json:"prev_hash"`
	Hash      []byte    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// ChainHash computes the entry hash from its predecessor's hash and the
// content fields. Fields are NUL-separated and the timestamp is the
// fixed-width millisecond value, so no two field combinations collide.
func ChainHash(prevHash []byte, actor, action, objectRef, details string, createdAt time.Time) []byte {
	h := sha256.New()
	h.Write(prevHash)
	for _, s := range []string{actor, action, objectRef, details} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], uint64(createdAt.UTC().UnixMilli()))
	h.Write(ms[:])
	return h.Sum(nil)
}
