package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/dht"
	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

var (
	// PingV1Path GET /v1/ping?addr=ip:port
	PingV1Path = version1Path + "/ping"

	// GetPeersV1Path GET /v1/get_peers?addr=ip:port&info_hash=hex
	GetPeersV1Path = version1Path + "/get_peers"
)

func (s *Server) queryHandlers() HTTPHandlers {
	return HTTPHandlers{
		{PingV1Path, s.ping},
		{GetPeersV1Path, s.getPeers},
	}
}

type PingJSON struct {
	ID  string `json:"id"`
	RTT int64  `json:"rtt_ms"`
}

type GetPeersJSON struct {
	ID     string      `json:"id"`
	Token  string      `json:"token"`
	Values []string    `json:"values"`
	Nodes  []*NodeJSON `json:"nodes"`
}

func parseAddr(r *http.Request) (*net.UDPAddr, bool) {
	param, ok := r.URL.Query()[AddrParam]
	if !ok {
		return nil, false
	}
	addr, err := utils.ResolveUDPAddr(param[0])
	if err != nil {
		return nil, false
	}
	return addr, true
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, q dht.Query, addr *net.UDPAddr) dht.Message {
	ctx, cancel := context.WithTimeout(r.Context(), 2*params.QueryTimeout)
	defer cancel()

	resp, err := s.e.Query(ctx, q, addr)
	if err != nil {
		var remote *dht.RemoteError
		switch {
		case errors.Is(err, dht.ErrTimeout):
			timeoutResponse(w)
		case errors.As(err, &remote):
			failedResponse(remote.Error(), w)
		default:
			failedResponse(err.Error(), w)
		}
		return nil
	}
	return resp
}

func senderHex(m dht.Message) string {
	id, _ := m.ID()
	return utils.ToHex(id[:])
}

/*
GET /v1/ping?addr=...

addr format: 1.2.3.4:6881 or [2001:db8::1]:6881
*/
func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddr(r)
	if !ok {
		badRequestResponse("bad addr", w)
		return
	}

	start := time.Now()
	resp := s.query(w, r, dht.NewPing(s.e.SelfID()), addr)
	if resp == nil {
		return
	}
	successWithDataResponse(&PingJSON{
		ID:  senderHex(resp),
		RTT: time.Since(start).Milliseconds(),
	}, w)
}

/*
GET /v1/get_peers?addr=...&info_hash=...

info_hash is 40 hexadecimal characters
*/
func (s *Server) getPeers(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddr(r)
	if !ok {
		badRequestResponse("bad addr", w)
		return
	}
	param, ok := r.URL.Query()[InfoHashParam]
	if !ok {
		badRequestResponse("missing info_hash", w)
		return
	}
	infoHash, err := crypto.ParseNodeID(param[0])
	if err != nil {
		badRequestResponse("bad info_hash", w)
		return
	}

	resp := s.query(w, r, dht.NewGetPeers(s.e.SelfID(), infoHash), addr)
	if resp == nil {
		return
	}
	gp, ok := resp.(*dht.GetPeersResponse)
	if !ok {
		failedResponse("unexpected response", w)
		return
	}

	result := &GetPeersJSON{
		ID:     senderHex(resp),
		Token:  utils.ToHex([]byte(gp.Token)),
		Values: make([]string, 0, len(gp.Values)),
		Nodes:  make([]*NodeJSON, 0, len(gp.Nodes)),
	}
	for _, v := range gp.Values {
		result.Values = append(result.Values, v.String())
	}
	for _, n := range gp.Nodes {
		result.Nodes = append(result.Nodes, nodeInfoJSON(n))
	}
	successWithDataResponse(result, w)
}

func nodeInfoJSON(n krpc.NodeInfo) *NodeJSON {
	return &NodeJSON{
		ID:   utils.ToHex(n.ID[:]),
		Addr: n.Addr.String(),
	}
}
