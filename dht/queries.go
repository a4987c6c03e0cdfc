package dht

import (
	"net"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/serialize/krpc"
)

const (
	MethodPing         = "ping"
	MethodFindNode     = "find_node"
	MethodGetPeers     = "get_peers"
	MethodAnnouncePeer = "announce_peer"
)

const (
	keyTarget      = "target"
	keyInfoHash    = "info_hash"
	keyToken       = "token"
	keyPort        = "port"
	keyImpliedPort = "implied_port"
	keyNodes       = "nodes"
	keyValues      = "values"
)

func newQuery(self crypto.NodeID, name string, args krpc.Dict) queryBase {
	args[krpc.KeyID] = string(self[:])
	return queryBase{base{raw: krpc.NewQuery(name, args)}}
}

////////////////////////////////////////////////////////////////

// Ping checks a node is alive
type Ping struct {
	queryBase
}

func NewPing(self crypto.NodeID) *Ping {
	return &Ping{newQuery(self, MethodPing, krpc.Dict{})}
}

func decodePing(m *krpc.Message) (Query, error) {
	if err := argID(MethodPing, m.Args()); err != nil {
		return nil, err
	}
	return &Ping{queryBase{base{raw: m}}}, nil
}

func (p *Ping) Handle(e *Engine, n *routing.Node) error {
	return e.Respond(p, krpc.Dict{})
}

func (p *Ping) DecodeResponse(m *krpc.Message) (Message, error) {
	r, err := decodeResponseBase(m)
	if err != nil {
		return nil, err
	}
	return &PingResponse{r}, nil
}

type PingResponse struct {
	responseBase
}

////////////////////////////////////////////////////////////////

// FindNode asks for the nodes closest to Target
type FindNode struct {
	queryBase
	Target crypto.NodeID
}

func NewFindNode(self, target crypto.NodeID) *FindNode {
	return &FindNode{
		queryBase: newQuery(self, MethodFindNode, krpc.Dict{keyTarget: string(target[:])}),
		Target:    target,
	}
}

func decodeFindNode(m *krpc.Message) (Query, error) {
	args := m.Args()
	if err := argID(MethodFindNode, args); err != nil {
		return nil, err
	}
	target, err := argHash(MethodFindNode, keyTarget, args)
	if err != nil {
		return nil, err
	}
	return &FindNode{queryBase: queryBase{base{raw: m}}, Target: target}, nil
}

func (f *FindNode) Handle(e *Engine, n *routing.Node) error {
	return e.Respond(f, krpc.Dict{
		keyNodes: krpc.EncodeNodes(e.closestNodes(f.Target)),
	})
}

func (f *FindNode) DecodeResponse(m *krpc.Message) (Message, error) {
	r, err := decodeResponseBase(m)
	if err != nil {
		return nil, err
	}
	nodes, err := returnedNodes(m.Return())
	if err != nil {
		return nil, err
	}
	return &FindNodeResponse{responseBase: r, Nodes: nodes}, nil
}

type FindNodeResponse struct {
	responseBase
	Nodes []krpc.NodeInfo
}

func returnedNodes(ret krpc.Dict) ([]krpc.NodeInfo, error) {
	s, ok := ret.String(keyNodes)
	if !ok {
		return nil, nil
	}
	return krpc.DecodeNodes(s)
}

////////////////////////////////////////////////////////////////

// GetPeers asks for the peers of InfoHash, or the closest nodes when none is known
type GetPeers struct {
	queryBase
	InfoHash crypto.NodeID
}

func NewGetPeers(self, infoHash crypto.NodeID) *GetPeers {
	return &GetPeers{
		queryBase: newQuery(self, MethodGetPeers, krpc.Dict{keyInfoHash: string(infoHash[:])}),
		InfoHash:  infoHash,
	}
}

func decodeGetPeers(m *krpc.Message) (Query, error) {
	args := m.Args()
	if err := argID(MethodGetPeers, args); err != nil {
		return nil, err
	}
	infoHash, err := argHash(MethodGetPeers, keyInfoHash, args)
	if err != nil {
		return nil, err
	}
	return &GetPeers{queryBase: queryBase{base{raw: m}}, InfoHash: infoHash}, nil
}

func (g *GetPeers) Handle(e *Engine, n *routing.Node) error {
	values := krpc.Dict{
		keyToken: string(e.tokens.Generate(e.source)),
	}

	peers, err := e.peers.GetPeers(g.InfoHash, params.MaxPeersPerAnswer)
	if err != nil {
		logger.Warn("get peers of %v failed:%v\n", g.InfoHash, err)
	}
	if len(peers) != 0 {
		compact := make([]interface{}, 0, len(peers))
		for _, p := range peers {
			compact = append(compact, string(krpc.CompactEndpoint(p)))
		}
		values[keyValues] = compact
	} else {
		values[keyNodes] = krpc.EncodeNodes(e.closestNodes(g.InfoHash))
	}

	return e.Respond(g, values)
}

func (g *GetPeers) DecodeResponse(m *krpc.Message) (Message, error) {
	r, err := decodeResponseBase(m)
	if err != nil {
		return nil, err
	}
	ret := m.Return()

	resp := &GetPeersResponse{responseBase: r}
	resp.Token, _ = ret.String(keyToken)
	if resp.Nodes, err = returnedNodes(ret); err != nil {
		return nil, err
	}
	values, _ := ret.StringList(keyValues)
	for _, v := range values {
		addr, err := krpc.ParseCompactEndpoint([]byte(v))
		if err != nil {
			return nil, err
		}
		resp.Values = append(resp.Values, addr)
	}
	return resp, nil
}

type GetPeersResponse struct {
	responseBase
	Token  string
	Values []*net.UDPAddr
	Nodes  []krpc.NodeInfo
}

////////////////////////////////////////////////////////////////

// AnnouncePeer tells a node we download InfoHash on Port,
// Token must come from a get_peers answer of the same node.
type AnnouncePeer struct {
	queryBase
	InfoHash    crypto.NodeID
	Port        int
	Token       string
	ImpliedPort bool
}

func NewAnnouncePeer(self, infoHash crypto.NodeID, port int, token string, impliedPort bool) *AnnouncePeer {
	args := krpc.Dict{
		keyInfoHash: string(infoHash[:]),
		keyPort:     int64(port),
		keyToken:    token,
	}
	if impliedPort {
		args[keyImpliedPort] = int64(1)
	}
	return &AnnouncePeer{
		queryBase:   newQuery(self, MethodAnnouncePeer, args),
		InfoHash:    infoHash,
		Port:        port,
		Token:       token,
		ImpliedPort: impliedPort,
	}
}

func decodeAnnouncePeer(m *krpc.Message) (Query, error) {
	args := m.Args()
	if err := argID(MethodAnnouncePeer, args); err != nil {
		return nil, err
	}
	infoHash, err := argHash(MethodAnnouncePeer, keyInfoHash, args)
	if err != nil {
		return nil, err
	}

	a := &AnnouncePeer{queryBase: queryBase{base{raw: m}}, InfoHash: infoHash}
	var ok bool
	if a.Token, ok = args.String(keyToken); !ok {
		return nil, errBadArgs(MethodAnnouncePeer, "missing token")
	}
	implied, _ := args.Int(keyImpliedPort)
	a.ImpliedPort = implied == 1

	port, ok := args.Int(keyPort)
	if !a.ImpliedPort && (!ok || port <= 0 || port > 65535) {
		return nil, errBadArgs(MethodAnnouncePeer, "bad port")
	}
	a.Port = int(port)
	return a, nil
}

func (a *AnnouncePeer) Handle(e *Engine, n *routing.Node) error {
	if !e.tokens.Verify(e.source, []byte(a.Token)) {
		return errBadArgs(MethodAnnouncePeer, "bad token")
	}

	peer := &net.UDPAddr{IP: e.source.IP, Port: a.Port}
	if a.ImpliedPort {
		peer.Port = e.source.Port
	}
	if err := e.peers.AddPeer(a.InfoHash, peer); err != nil {
		logger.Warn("store announced peer %v failed:%v\n", peer, err)
		return errServer
	}
	logger.Debug("%v announced %v for %v\n", n, peer, a.InfoHash)

	return e.Respond(a, krpc.Dict{})
}

func (a *AnnouncePeer) DecodeResponse(m *krpc.Message) (Message, error) {
	r, err := decodeResponseBase(m)
	if err != nil {
		return nil, err
	}
	return &AnnouncePeerResponse{r}, nil
}

type AnnouncePeerResponse struct {
	responseBase
}
