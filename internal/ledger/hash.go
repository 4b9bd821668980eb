package ledger

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/Wikid82/memoryorgan/internal/models"
)

// ContentHash computes the content address of an entry. Two peers writing the
// same document under the same key produce distinct hashes because the
// origin peer is part of the address.
func ContentHash(store, key, peer string, version int64, document string) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{store, key, peer} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(version))
	h.Write(v[:])
	h.Write([]byte(document))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the hash of an entry received from a peer.
func Verify(e models.LedgerEntry) bool {
	return e.Hash == ContentHash(e.Store, e.Key, e.Peer, e.Version, e.Document)
}
