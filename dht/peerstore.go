package dht

import (
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/serialize/krpc"
)

// PeerStore keeps the peers announced to us, db.DB implements it on disk
type PeerStore interface {
	AddPeer(infoHash crypto.NodeID, peer *net.UDPAddr) error
	GetPeers(infoHash crypto.NodeID, max int) ([]*net.UDPAddr, error)
}

type memPeerStore struct {
	ttl time.Duration
	clk clock.Clock

	lock  sync.Mutex
	peers map[crypto.NodeID]map[string]time.Time // compact endpoint -> expire time
}

// NewMemPeerStore returns a PeerStore living in memory, peers expire after ttl
func NewMemPeerStore(ttl time.Duration, clk clock.Clock) PeerStore {
	if clk == nil {
		clk = clock.New()
	}
	return &memPeerStore{
		ttl:   ttl,
		clk:   clk,
		peers: make(map[crypto.NodeID]map[string]time.Time),
	}
}

func (m *memPeerStore) AddPeer(infoHash crypto.NodeID, peer *net.UDPAddr) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	set, ok := m.peers[infoHash]
	if !ok {
		set = make(map[string]time.Time)
		m.peers[infoHash] = set
	}
	set[string(krpc.CompactEndpoint(peer))] = m.clk.Now().Add(m.ttl)
	return nil
}

func (m *memPeerStore) GetPeers(infoHash crypto.NodeID, max int) ([]*net.UDPAddr, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	set := m.peers[infoHash]
	now := m.clk.Now()

	var result []*net.UDPAddr
	for compact, expire := range set {
		if !now.Before(expire) {
			delete(set, compact)
			continue
		}
		if max > 0 && len(result) >= max {
			continue
		}
		addr, err := krpc.ParseCompactEndpoint([]byte(compact))
		if err != nil {
			continue
		}
		result = append(result, addr)
	}
	if len(set) == 0 {
		delete(m.peers, infoHash)
	}
	return result, nil
}
