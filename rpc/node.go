package rpc

import (
	"net/http"
	"sort"

	"github.com/996BC/996.DHT/dht"
	"github.com/996BC/996.DHT/utils"
)

var (
	// StatsV1Path GET /v1/stats
	StatsV1Path = version1Path + "/stats"

	// NodesV1Path GET /v1/nodes
	NodesV1Path = version1Path + "/nodes"
)

func (s *Server) nodeHandlers() HTTPHandlers {
	return HTTPHandlers{
		{StatsV1Path, s.getStats},
		{NodesV1Path, s.getNodes},
	}
}

type StatsJSON struct {
	ID     string    `json:"id"`
	Nodes  int       `json:"nodes"`
	Engine dht.Stats `json:"engine"`
}

type NodeJSON struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	LastSeen int64  `json:"last_seen"` // unix seconds, 0 if never seen
}

type GetNodesResponse struct {
	Data []*NodeJSON `json:"data"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	self := s.e.SelfID()
	successWithDataResponse(&StatsJSON{
		ID:     utils.ToHex(self[:]),
		Nodes:  s.table.Size(),
		Engine: s.e.Stats(),
	}, w)
}

/*
GET /v1/nodes

the nodes of the routing table, the most recently seen first
*/
func (s *Server) getNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.table.Nodes()
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].LastSeen().After(nodes[j].LastSeen())
	})

	resp := &GetNodesResponse{Data: make([]*NodeJSON, 0, len(nodes))}
	for _, n := range nodes {
		j := &NodeJSON{
			ID:   utils.ToHex(n.ID[:]),
			Addr: n.Addr().String(),
		}
		if seen := n.LastSeen(); !seen.IsZero() {
			j.LastSeen = seen.Unix()
		}
		resp.Data = append(resp.Data, j)
	}
	successWithDataResponse(resp, w)
}
