package krpc

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/params"
)

/*
Compact endpoint
+------------+------+
|     IP     | Port |
+------------+------+
(bytes)
IP      4 (IPv4) or 16 (IPv6)
Port    2, big endian

Compact node info
+---------+--------------------+
| Node ID | Compact endpoint   |
+---------+--------------------+
(bytes)
Node ID             20
Compact endpoint    6, IPv4 only
*/

const (
	compactIPv4Len     = net.IPv4len + 2
	compactIPv6Len     = net.IPv6len + 2
	CompactNodeInfoLen = params.NodeIDLength + compactIPv4Len
)

// CompactEndpoint returns the compact form of addr
func CompactEndpoint(addr *net.UDPAddr) []byte {
	var result []byte
	if v4 := addr.IP.To4(); v4 != nil {
		result = make([]byte, compactIPv4Len)
		copy(result, v4)
	} else {
		result = make([]byte, compactIPv6Len)
		copy(result, addr.IP.To16())
	}
	binary.BigEndian.PutUint16(result[len(result)-2:], uint16(addr.Port))
	return result
}

// ParseCompactEndpoint is the inverse of CompactEndpoint
func ParseCompactEndpoint(b []byte) (*net.UDPAddr, error) {
	if len(b) != compactIPv4Len && len(b) != compactIPv6Len {
		return nil, fmt.Errorf("invalid compact endpoint length %d", len(b))
	}
	ip := make(net.IP, len(b)-2)
	copy(ip, b)
	return &net.UDPAddr{
		IP:   ip,
		Port: int(binary.BigEndian.Uint16(b[len(b)-2:])),
	}, nil
}

// NodeInfo is one entry of the "nodes" key
type NodeInfo struct {
	ID   crypto.NodeID
	Addr *net.UDPAddr
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%v@%v", n.ID, n.Addr)
}

// EncodeNodes returns the concatenated compact node infos, non IPv4 nodes are skipped
func EncodeNodes(nodes []NodeInfo) string {
	result := make([]byte, 0, len(nodes)*CompactNodeInfoLen)
	for _, n := range nodes {
		if n.Addr == nil || n.Addr.IP.To4() == nil {
			continue
		}
		result = append(result, n.ID[:]...)
		result = append(result, CompactEndpoint(n.Addr)...)
	}
	return string(result)
}

// DecodeNodes is the inverse of EncodeNodes
func DecodeNodes(s string) ([]NodeInfo, error) {
	if len(s)%CompactNodeInfoLen != 0 {
		return nil, fmt.Errorf("invalid compact nodes length %d", len(s))
	}

	result := make([]NodeInfo, 0, len(s)/CompactNodeInfoLen)
	for i := 0; i < len(s); i += CompactNodeInfoLen {
		b := []byte(s[i : i+CompactNodeInfoLen])
		id, _ := crypto.NodeIDFromBytes(b[:params.NodeIDLength])
		addr, err := ParseCompactEndpoint(b[params.NodeIDLength:])
		if err != nil {
			return nil, err
		}
		result = append(result, NodeInfo{ID: id, Addr: addr})
	}
	return result, nil
}
