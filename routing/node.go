package routing

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/serialize/krpc"
)

// Node is a remote DHT node
type Node struct {
	ID crypto.NodeID

	addr    *net.UDPAddr
	compact []byte
	clk     clock.Clock

	lock     sync.Mutex
	lastSeen time.Time
}

// NewNode creates a Node which has never been seen
func NewNode(id crypto.NodeID, addr *net.UDPAddr) *Node {
	return &Node{
		ID:      id,
		addr:    addr,
		compact: krpc.CompactEndpoint(addr),
		clk:     clock.New(),
	}
}

// Addr returns the network endpoint of the node
func (n *Node) Addr() *net.UDPAddr {
	return n.addr
}

// CompactEndpoint returns the compact binary form of Addr, tokens are bound to it
func (n *Node) CompactEndpoint() []byte {
	return n.compact
}

// MarkSeen records that the node has just sent us a valid message
func (n *Node) MarkSeen() {
	n.lock.Lock()
	n.lastSeen = n.clk.Now()
	n.lock.Unlock()
}

func (n *Node) LastSeen() time.Time {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.lastSeen
}

func (n *Node) isExpired(now time.Time, expire time.Duration) bool {
	return now.Sub(n.LastSeen()) >= expire
}

// Info returns the node in the form carried by "nodes"
func (n *Node) Info() krpc.NodeInfo {
	return krpc.NodeInfo{ID: n.ID, Addr: n.addr}
}

func (n *Node) String() string {
	return fmt.Sprintf("ID %v address %v", n.ID, n.addr)
}
