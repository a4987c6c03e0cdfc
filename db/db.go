package db

import (
	"net"
	"time"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

var logger = utils.NewLogger("db")

// DB is the node's persistent state: the node cache reloaded by the routing
// table and the peers announced to us through announce_peer.
type DB interface {
	// LoadNodes returns the persisted node cache
	LoadNodes() ([]krpc.NodeInfo, error)

	// SaveNodes replaces the persisted node cache
	SaveNodes(nodes []krpc.NodeInfo) error

	// AddPeer records peer for infoHash, the record expires after the store's peer TTL
	AddPeer(infoHash crypto.NodeID, peer *net.UDPAddr) error

	// GetPeers returns at most max unexpired peers of infoHash
	GetPeers(infoHash crypto.NodeID, max int) ([]*net.UDPAddr, error)

	Close() error
}

type Option func(*badgerDB)

// WithPeerTTL overrides params.AnnouncedPeerTTL
func WithPeerTTL(ttl time.Duration) Option {
	return func(b *badgerDB) { b.peerTTL = ttl }
}

// Open opens or creates the badger database under path
func Open(path string, opts ...Option) (DB, error) {
	b := newBadger()
	for _, opt := range opts {
		opt(b)
	}
	if err := b.init(path); err != nil {
		return nil, err
	}
	return b, nil
}
