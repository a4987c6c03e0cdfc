package db

import (
	"github.com/996BC/996.DHT/crypto"
)

var (
	nodePrefix = []byte("n") // nodePrefix + node id -> compact endpoint
	peerPrefix = []byte("p") // peerPrefix + info hash + compact endpoint -> placeHolder, expires

	placeHolder = []byte("0")
)

// n..
func getNodeKey(id crypto.NodeID) []byte {
	return concat(nodePrefix, id[:])
}

// p..
func getPeerKeyPrefix(infoHash crypto.NodeID) []byte {
	return concat(peerPrefix, infoHash[:])
}

// p....
func getPeerKey(infoHash crypto.NodeID, compact []byte) []byte {
	return concat(getPeerKeyPrefix(infoHash), compact)
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	result := make([]byte, 0, n)
	for _, p := range parts {
		result = append(result, p...)
	}
	return result
}
