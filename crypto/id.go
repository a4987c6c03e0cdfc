package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/ripemd160"

	"github.com/996BC/996.DHT/params"
)

// NodeID identifies a DHT node and doubles as the key space of info hashes.
// Our own id is hash160 of the compressed node public key, so a node keeps
// its position in the key space across restarts.
type NodeID [params.NodeIDLength]byte

// NodeIDFromPubKey returns ripemd160(sha256(compressed public key))
func NodeIDFromPubKey(pubKey *btcec.PublicKey) NodeID {
	sum := sha256.Sum256(pubKey.SerializeCompressed())
	h := ripemd160.New()
	h.Write(sum[:])

	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

// NodeIDFromBytes copies b into a NodeID, b must be exactly NodeIDLength bytes
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != params.NodeIDLength {
		return id, fmt.Errorf("node id must be %d bytes, got %d", params.NodeIDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseNodeID decodes a hexadecimal node id
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeIDFromBytes(b)
}

// RandomNodeID returns an id for nodes that don't own a persistent key
func RandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}

func (id NodeID) Bytes() []byte {
	return id[:]
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Xor returns the Kademlia distance between a and b
func Xor(a, b NodeID) (d NodeID) {
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return
}

// Closer reports whether a is strictly closer to target than b
func Closer(target, a, b NodeID) bool {
	da := Xor(a, target)
	db := Xor(b, target)
	return bytes.Compare(da[:], db[:]) < 0
}
