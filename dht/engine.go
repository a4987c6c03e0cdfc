package dht

import (
	"container/list"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

var logger = utils.NewLogger("dht")

// Routing is the node table the engine keeps up to date, routing.Table implements it
type Routing interface {
	FindNode(id crypto.NodeID) *routing.Node
	Add(n *routing.Node) bool
	Closest(target crypto.NodeID, k int) []*routing.Node
}

// Transport is the datagram layer, utils.UDPServer implements it
type Transport interface {
	Start() error
	Stop()
	IsListening() bool

	// Send is fire-and-forget
	Send(packet *utils.UDPPacket)

	// Outstanding returns the sends not yet written to the network
	Outstanding() int

	SetReceiver(f func(packet *utils.UDPPacket))
}

// Config tunes an Engine. NewEngine replaces non positive durations,
// MaxOutstanding and RecvQueueSize with the DefaultConfig values.
type Config struct {
	// Timeout is measured from the time a query is written, not enqueued
	Timeout        time.Duration
	MaxOutstanding int
	MinSendGap     time.Duration
	TickInterval   time.Duration
	TokenRotation  time.Duration

	// per source IP, a non positive rate disables the limit
	InboundRate   float64
	InboundBurst  int
	RecvQueueSize int

	// VerifyReplySource drops replies not coming from the endpoint the query was sent to.
	// When false a reply is matched on its transaction id only.
	VerifyReplySource bool

	Clock    clock.Clock
	Registry Registry

	// Peers defaults to a memory store
	Peers PeerStore
}

func DefaultConfig() Config {
	return Config{
		Timeout:        params.QueryTimeout,
		MaxOutstanding: params.MaxOutstanding,
		MinSendGap:     params.MinSendGap,
		TickInterval:   params.TickInterval,
		TokenRotation:  params.TokenRotation,
		InboundRate:    params.InboundRate,
		InboundBurst:   params.InboundBurst,
		RecvQueueSize:  params.RecvQueueSize,
	}
}

// Completion resolves one query: Response is set when matched, Err when the
// peer answered a KRPC error (*RemoteError) or a malformed response.
// Both nil means the query timed out.
type Completion struct {
	Addr     *net.UDPAddr
	Query    Query
	Response Message
	Err      error
}

func (c Completion) TimedOut() bool {
	return c.Response == nil && c.Err == nil
}

type sendEntry struct {
	addr   *net.UDPAddr
	raw    *krpc.Message
	query  Query // nil for responses and errors
	sentAt time.Time
}

// reply is an outbound response or error
type reply struct {
	base
}

func (r *reply) ID() (crypto.NodeID, bool) {
	return crypto.NodeID{}, false
}

// Engine is the KRPC message loop. Each Tick sends at most one queued message,
// processes at most one received datagram and expires at most one query.
type Engine struct {
	selfID    crypto.NodeID
	conf      Config
	clk       clock.Clock
	transport Transport
	routing   Routing
	factory   *MessageFactory
	tids      *TransactionIDGenerator
	tokens    *TokenManager
	peers     PeerStore
	limiter   *inboundLimiter
	metrics   *Metrics

	lock     sync.Mutex
	sendQ    *list.List // *sendEntry
	recvQ    []*utils.UDPPacket
	waiting  *list.List // *sendEntry, oldest first
	lastSend time.Time
	source   *net.UDPAddr // sender of the message being handled

	subLock     sync.RWMutex
	subscribers map[uint64]func(Completion)
	nextSub     uint64

	ownTransport bool
	lm           *utils.LoopMode
}

func NewEngine(selfID crypto.NodeID, transport Transport, rt Routing, conf Config) *Engine {
	if conf.Clock == nil {
		conf.Clock = clock.New()
	}
	if conf.Registry.decoders == nil {
		conf.Registry = DefaultRegistry()
	}
	if conf.Peers == nil {
		conf.Peers = NewMemPeerStore(params.AnnouncedPeerTTL, conf.Clock)
	}
	if conf.RecvQueueSize <= 0 {
		conf.RecvQueueSize = params.RecvQueueSize
	}
	if conf.Timeout <= 0 {
		conf.Timeout = params.QueryTimeout
	}
	if conf.MaxOutstanding <= 0 {
		conf.MaxOutstanding = params.MaxOutstanding
	}
	if conf.MinSendGap <= 0 {
		conf.MinSendGap = params.MinSendGap
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = params.TickInterval
	}
	if conf.TokenRotation <= 0 {
		conf.TokenRotation = params.TokenRotation
	}

	return &Engine{
		selfID:      selfID,
		conf:        conf,
		clk:         conf.Clock,
		transport:   transport,
		routing:     rt,
		factory:     NewMessageFactory(conf.Registry),
		tids:        NewTransactionIDGenerator(),
		tokens:      NewTokenManager(conf.TokenRotation, conf.Clock),
		peers:       conf.Peers,
		limiter:     newInboundLimiter(conf.InboundRate, conf.InboundBurst, params.InboundPeerCache, conf.Clock),
		metrics:     newMetrics(),
		sendQ:       list.New(),
		waiting:     list.New(),
		subscribers: make(map[uint64]func(Completion)),
		lm:          utils.NewLoop(),
	}
}

func (e *Engine) SelfID() crypto.NodeID {
	return e.selfID
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

func (e *Engine) Factory() *MessageFactory {
	return e.factory
}

// Start hooks the engine to the transport, starting it when nobody did, and runs the tick loop
func (e *Engine) Start() error {
	e.transport.SetReceiver(e.Receive)
	if !e.transport.IsListening() {
		if err := e.transport.Start(); err != nil {
			return err
		}
		e.ownTransport = true
	}

	e.lm.Go(e.loop)
	e.lm.StartWorking()
	logger.Info("dht engine %v started\n", e.selfID)
	return nil
}

func (e *Engine) Stop() {
	if !e.lm.Stop() {
		return
	}
	e.transport.SetReceiver(nil)
	if e.ownTransport {
		e.transport.Stop()
	}
	logger.Info("dht engine stopped\n")
}

func (e *Engine) IsRunning() bool {
	return e.lm.IsWorking()
}

func (e *Engine) loop() {
	ticker := e.clk.Ticker(e.conf.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.lm.D:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Subscribe registers f for every completion, the returned function unregisters it.
// f runs on the tick goroutine without the engine lock and may enqueue messages.
func (e *Engine) Subscribe(f func(Completion)) func() {
	e.subLock.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = f
	e.subLock.Unlock()

	return func() {
		e.subLock.Lock()
		delete(e.subscribers, id)
		e.subLock.Unlock()
	}
}

func (e *Engine) notify(done []Completion) {
	if len(done) == 0 {
		return
	}

	e.subLock.RLock()
	subs := make([]func(Completion), 0, len(e.subscribers))
	for _, f := range e.subscribers {
		subs = append(subs, f)
	}
	e.subLock.RUnlock()

	for _, c := range done {
		for _, f := range subs {
			f(c)
		}
	}
}

// EnqueueSend queues msg for addr and returns immediately.
// A query without transaction id gets a free one and is registered as in flight,
// responses and errors must already echo the id of the query they answer.
func (e *Engine) EnqueueSend(msg Message, addr *net.UDPAddr) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.enqueue(msg, addr)
}

func (e *Engine) enqueue(msg Message, addr *net.UDPAddr) error {
	if addr == nil {
		return fmt.Errorf("send %v without destination", msg)
	}

	raw := msg.Raw()
	entry := &sendEntry{addr: addr, raw: raw}

	if raw.Kind() == krpc.KindQuery {
		q, ok := msg.(Query)
		if !ok {
			return fmt.Errorf("query message %T doesn't implement Query", msg)
		}
		if !raw.HasTransactionID() {
			tid, err := e.freeTransactionID()
			if err != nil {
				return err
			}
			raw.SetTransactionID(tid)
		}
		if err := e.factory.RegisterSend(q); err != nil {
			return err
		}
		entry.query = q
	} else if !raw.HasTransactionID() {
		return ErrMissingTransactionID
	}

	e.sendQ.PushBack(entry)
	return nil
}

func (e *Engine) freeTransactionID() (string, error) {
	for i := 0; i < 1<<(8*params.TransactionIDLength); i++ {
		tid := e.tids.Next()
		if !e.factory.IsPending(tid) {
			return tid, nil
		}
	}
	return "", ErrTransactionPending
}

// Respond answers the message being handled, it may only be called from Handle
func (e *Engine) Respond(m Message, values krpc.Dict) error {
	if e.source == nil {
		return fmt.Errorf("respond to %v outside of Handle", m)
	}
	values[krpc.KeyID] = string(e.selfID[:])
	return e.enqueue(&reply{base{raw: krpc.NewResponse(m.TransactionID(), values)}}, e.source)
}

func (e *Engine) respondError(tid string, err error, to *net.UDPAddr) {
	pe, ok := err.(*ProtocolError)
	if !ok {
		pe = errServer
	}
	if len(tid) == 0 {
		logger.Debug("can't answer %v to %v without transaction id\n", pe, to)
		return
	}
	if err := e.enqueue(&reply{base{raw: krpc.NewError(tid, pe.Code, pe.Message)}}, to); err != nil {
		logger.Warn("enqueue error reply to %v failed:%v\n", to, err)
	}
}

// Receive is the transport callback, it only queues the datagram
func (e *Engine) Receive(packet *utils.UDPPacket) {
	if !e.limiter.Allow(packet.Addr.IP) {
		e.metrics.limited.Inc()
		logger.Debug("rate limit, drop datagram from %v\n", packet.Addr)
		return
	}

	e.lock.Lock()
	if len(e.recvQ) >= e.conf.RecvQueueSize {
		e.lock.Unlock()
		e.metrics.dropped.Inc()
		logger.Debug("receive queue is full, drop datagram from %v\n", packet.Addr)
		return
	}
	e.recvQ = append(e.recvQ, packet)
	e.lock.Unlock()
}

// Query sends q and waits for its completion.
// It returns ErrTimeout when nobody answered and *RemoteError for a KRPC error reply.
func (e *Engine) Query(ctx context.Context, q Query, addr *net.UDPAddr) (Message, error) {
	ch := make(chan Completion, 1)
	unsubscribe := e.Subscribe(func(c Completion) {
		if c.Query == q {
			select {
			case ch <- c:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := e.EnqueueSend(q, addr); err != nil {
		return nil, err
	}

	select {
	case c := <-ch:
		if c.Err != nil {
			return nil, c.Err
		}
		if c.Response == nil {
			return nil, ErrTimeout
		}
		return c.Response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) closestNodes(target crypto.NodeID) []krpc.NodeInfo {
	nodes := e.routing.Closest(target, params.K)
	result := make([]krpc.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		result = append(result, n.Info())
	}
	return result
}

type Stats struct {
	SendQueue int    `json:"send_queue"`
	RecvQueue int    `json:"recv_queue"`
	Waiting   int    `json:"waiting"`
	Pending   int    `json:"pending"`
	Secrets   uint64 `json:"token_secrets"`
}

func (e *Engine) Stats() Stats {
	e.lock.Lock()
	defer e.lock.Unlock()

	return Stats{
		SendQueue: e.sendQ.Len(),
		RecvQueue: len(e.recvQ),
		Waiting:   e.waiting.Len(),
		Pending:   e.factory.Pending(),
		Secrets:   e.tokens.Rotations(),
	}
}
