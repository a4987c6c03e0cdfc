package routing

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

var logger = utils.NewLogger("routing")

// NodeStore persists good nodes across restarts
type NodeStore interface {
	LoadNodes() ([]krpc.NodeInfo, error)
	SaveNodes(nodes []krpc.NodeInfo) error
}

type Option func(*Table)

func WithClock(clk clock.Clock) Option {
	return func(t *Table) { t.clk = clk }
}

func WithCapacity(capacity int) Option {
	return func(t *Table) { t.capacity = capacity }
}

// WithStore makes Start reload the persisted nodes and the refresh loop save them
func WithStore(store NodeStore) Option {
	return func(t *Table) { t.store = store }
}

// Table keeps the nodes known to this node, indexed by node id.
// It has no buckets: Closest sorts every node by XOR distance.
type Table struct {
	selfID   crypto.NodeID
	capacity int
	clk      clock.Clock
	store    NodeStore

	lock  sync.RWMutex
	nodes map[crypto.NodeID]*Node

	lm *utils.LoopMode
}

func NewTable(selfID crypto.NodeID, opts ...Option) *Table {
	t := &Table{
		selfID:   selfID,
		capacity: params.RoutingCapacity,
		clk:      clock.New(),
		nodes:    make(map[crypto.NodeID]*Node),
		lm:       utils.NewLoop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) SelfID() crypto.NodeID {
	return t.selfID
}

// Start reloads persisted nodes and runs the periodic refresh
func (t *Table) Start() {
	if t.store != nil {
		infos, err := t.store.LoadNodes()
		if err != nil {
			logger.Warn("load persisted nodes failed:%v\n", err)
		}
		for _, info := range infos {
			t.Add(NewNode(info.ID, info.Addr))
		}
		logger.Info("reload %d persisted nodes\n", len(infos))
	}

	t.lm.Go(t.loop)
	t.lm.StartWorking()
}

func (t *Table) Stop() {
	if t.lm.Stop() {
		t.save()
	}
}

func (t *Table) loop() {
	ticker := t.clk.Ticker(params.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.lm.D:
			return
		case <-ticker.C:
			t.Refresh()
			t.save()
		}
	}
}

// FindNode returns the node with id, nil if unknown
func (t *Table) FindNode(id crypto.NodeID) *Node {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.nodes[id]
}

// Add inserts n; our own id is ignored. When the table is full the stalest
// expired node is evicted, if no node is expired n is dropped.
func (t *Table) Add(n *Node) bool {
	if n.ID == t.selfID {
		return false
	}
	n.clk = t.clk

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.nodes[n.ID]; ok {
		return false
	}

	if len(t.nodes) >= t.capacity {
		now := t.clk.Now()
		var stalest *Node
		for _, v := range t.nodes {
			if !v.isExpired(now, params.NodeExpiredTime) {
				continue
			}
			if stalest == nil || v.LastSeen().Before(stalest.LastSeen()) {
				stalest = v
			}
		}
		if stalest == nil {
			return false
		}
		logger.Debug("table full, evict %v\n", stalest)
		delete(t.nodes, stalest.ID)
	}

	logger.Debug("add node %v\n", n)
	t.nodes[n.ID] = n
	return true
}

func (t *Table) Remove(id crypto.NodeID) {
	t.lock.Lock()
	delete(t.nodes, id)
	t.lock.Unlock()
}

// Closest returns up to k nodes ordered by XOR distance to target
func (t *Table) Closest(target crypto.NodeID, k int) []*Node {
	result := t.Nodes()
	sort.Slice(result, func(i, j int) bool {
		return crypto.Closer(target, result[i].ID, result[j].ID)
	})
	if len(result) > k {
		result = result[:k]
	}
	return result
}

// Nodes returns a snapshot of every node
func (t *Table) Nodes() []*Node {
	t.lock.RLock()
	defer t.lock.RUnlock()

	result := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		result = append(result, n)
	}
	return result
}

func (t *Table) Size() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.nodes)
}

// Refresh drops the nodes not seen for NodeExpiredTime and returns how many were dropped
func (t *Table) Refresh() int {
	return t.expire(params.NodeExpiredTime)
}

func (t *Table) expire(d time.Duration) int {
	now := t.clk.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	removed := 0
	for id, n := range t.nodes {
		if n.isExpired(now, d) {
			logger.Debug("node %v timeout, clean\n", n)
			delete(t.nodes, id)
			removed++
		}
	}
	return removed
}

// save persists the nodes seen recently, never-seen nodes are not worth a restart
func (t *Table) save() {
	if t.store == nil {
		return
	}

	now := t.clk.Now()
	var infos []krpc.NodeInfo
	for _, n := range t.Nodes() {
		if n.LastSeen().IsZero() || n.isExpired(now, params.NodeExpiredTime) {
			continue
		}
		infos = append(infos, n.Info())
	}
	if err := t.store.SaveNodes(infos); err != nil {
		logger.Warn("persist nodes failed:%v\n", err)
	}
}
