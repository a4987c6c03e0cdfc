package dht

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

func TestQueryTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	dest := peerAddr(1)

	q := NewPing(env.engine.SelfID())
	require.NoError(t, env.engine.EnqueueSend(q, dest))
	tid := q.TransactionID()
	require.Len(t, tid, 2)
	require.True(t, env.engine.Factory().IsPending(tid))

	env.engine.Tick()
	require.Equal(t, 1, env.transport.sentCount())

	env.clock.Add(2000 * time.Millisecond)
	env.engine.Tick()
	require.Empty(t, env.done(), "timeout must not fire before the full window")

	env.clock.Add(time.Millisecond)
	env.engine.Tick()

	done := env.done()
	require.Len(t, done, 1)
	require.Equal(t, dest, done[0].Addr)
	require.Equal(t, Query(q), done[0].Query)
	require.True(t, done[0].TimedOut())
	require.False(t, env.engine.Factory().IsPending(tid))

	// a late reply is rejected as unknown
	env.inject(t, responseFrom(crypto.RandomNodeID(), tid, nil), dest)
	env.tickSpaced(5)
	require.Len(t, env.done(), 1)
	require.Equal(t, 0, env.table.Size())
	require.Equal(t, float64(1), testutil.ToFloat64(env.engine.Metrics().timeouts))
}

func TestQueryMatched(t *testing.T) {
	env := newTestEnv(t, nil)
	dest := peerAddr(2)
	remote := crypto.RandomNodeID()

	q := NewPing(env.engine.SelfID())
	require.NoError(t, env.engine.EnqueueSend(q, dest))
	env.engine.Tick()

	sent, to := env.transport.sentMessage(t, 0)
	require.Equal(t, krpc.KindQuery, sent.Kind())
	require.Equal(t, MethodPing, sent.QueryName())
	require.Equal(t, dest.String(), to.String())

	env.inject(t, responseFrom(remote, sent.TransactionID(), nil), dest)
	env.engine.Tick()

	done := env.done()
	require.Len(t, done, 1)
	require.Equal(t, Query(q), done[0].Query)
	require.NoError(t, done[0].Err)
	resp, ok := done[0].Response.(*PingResponse)
	require.True(t, ok, "expect *PingResponse, got %T", done[0].Response)
	id, _ := resp.ID()
	require.Equal(t, remote, id)
	require.False(t, env.engine.Factory().IsPending(sent.TransactionID()))

	// the responder is now a known, seen node
	n := env.table.FindNode(remote)
	require.NotNil(t, n)
	require.False(t, n.LastSeen().IsZero())

	// no timeout afterwards
	env.clock.Add(10 * time.Second)
	env.tickSpaced(5)
	require.Len(t, env.done(), 1)
}

func TestErrorReplyResolvesQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	dest := peerAddr(3)

	q := NewFindNode(env.engine.SelfID(), crypto.RandomNodeID())
	require.NoError(t, env.engine.EnqueueSend(q, dest))
	env.engine.Tick()

	env.inject(t, krpc.NewError(q.TransactionID(), krpc.ErrorGeneric, "busy"), dest)
	env.engine.Tick()

	done := env.done()
	require.Len(t, done, 1)
	var remoteErr *RemoteError
	require.ErrorAs(t, done[0].Err, &remoteErr)
	require.Equal(t, int64(krpc.ErrorGeneric), remoteErr.Code)
	require.Equal(t, "busy", remoteErr.Message)
	require.False(t, env.engine.Factory().IsPending(q.TransactionID()))

	env.clock.Add(5 * time.Second)
	env.tickSpaced(3)
	require.Len(t, env.done(), 1)
}

func TestMalformedResponseResolvesQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	dest := peerAddr(4)

	q := NewFindNode(env.engine.SelfID(), crypto.RandomNodeID())
	require.NoError(t, env.engine.EnqueueSend(q, dest))
	env.engine.Tick()

	env.inject(t, responseFrom(crypto.RandomNodeID(), q.TransactionID(), krpc.Dict{keyNodes: "short"}), dest)
	env.engine.Tick()

	done := env.done()
	require.Len(t, done, 1)
	var de *krpc.DecodeError
	require.ErrorAs(t, done[0].Err, &de)
	require.Nil(t, done[0].Response)
}

func TestSendRateLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.transport.hold = true
	ceiling := env.engine.conf.MaxOutstanding

	for i := 0; i < ceiling+3; i++ {
		require.NoError(t, env.engine.EnqueueSend(NewPing(env.engine.SelfID()), peerAddr(byte(i))))
	}

	// the send gap holds back a second send within the same instant
	env.engine.Tick()
	env.engine.Tick()
	require.Equal(t, 1, env.transport.sentCount())

	for i := 0; i < 20; i++ {
		env.tickSpaced(1)
		require.LessOrEqual(t, env.transport.Outstanding(), ceiling)
	}
	require.Equal(t, ceiling, env.transport.sentCount())

	env.transport.release(2)
	env.tickSpaced(10)
	require.Equal(t, ceiling+2, env.transport.sentCount())
}

func TestSendOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	dest := peerAddr(5)

	var tids []string
	for i := 0; i < 3; i++ {
		q := NewPing(env.engine.SelfID())
		require.NoError(t, env.engine.EnqueueSend(q, dest))
		tids = append(tids, q.TransactionID())
	}
	env.tickSpaced(3)

	for i, tid := range tids {
		m, _ := env.transport.sentMessage(t, i)
		require.Equal(t, tid, m.TransactionID())
	}
}

func TestTimeoutsDrainOnePerTick(t *testing.T) {
	env := newTestEnv(t, nil)

	var queries []Query
	for i := 0; i < 3; i++ {
		q := NewPing(env.engine.SelfID())
		require.NoError(t, env.engine.EnqueueSend(q, peerAddr(byte(10+i))))
		queries = append(queries, q)
	}
	env.tickSpaced(3)
	require.Equal(t, 3, env.transport.sentCount())

	env.clock.Add(time.Minute)
	for i := 0; i < 3; i++ {
		env.engine.Tick()
		done := env.done()
		require.Len(t, done, i+1)
		require.Equal(t, queries[i], done[i].Query, "timeouts fire in send order")
	}
}

func TestEnqueueContract(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := &reply{base{raw: krpc.NewResponse("", krpc.Dict{})}}
	require.ErrorIs(t, env.engine.EnqueueSend(resp, peerAddr(1)), ErrMissingTransactionID)

	e := &reply{base{raw: krpc.NewError("", krpc.ErrorGeneric, "x")}}
	require.ErrorIs(t, env.engine.EnqueueSend(e, peerAddr(1)), ErrMissingTransactionID)

	q := NewPing(env.engine.SelfID())
	require.NoError(t, env.engine.EnqueueSend(q, peerAddr(1)))

	dup := NewPing(env.engine.SelfID())
	require.NoError(t, dup.Raw().SetTransactionID(q.TransactionID()))
	require.ErrorIs(t, env.engine.EnqueueSend(dup, peerAddr(1)), ErrTransactionPending)
}

func TestTransactionIDsRegistrable(t *testing.T) {
	env := newTestEnv(t, nil)

	// an id picked by hand is already pending
	manual := NewPing(env.engine.SelfID())
	require.NoError(t, manual.Raw().SetTransactionID("\x00\x03"))
	require.NoError(t, env.engine.EnqueueSend(manual, peerAddr(1)))

	seen := map[string]bool{manual.TransactionID(): true}
	for i := 0; i < 1000; i++ {
		q := NewPing(env.engine.SelfID())
		require.NoError(t, env.engine.EnqueueSend(q, peerAddr(1)))
		require.False(t, seen[q.TransactionID()], "duplicated id %X", q.TransactionID())
		seen[q.TransactionID()] = true
	}
	require.Equal(t, 1001, env.engine.Factory().Pending())
}

func TestInboundPing(t *testing.T) {
	env := newTestEnv(t, nil)
	from := peerAddr(20)
	remote := crypto.RandomNodeID()

	env.inject(t, queryFrom(remote, "aa", MethodPing, nil), from)
	env.engine.Tick()
	require.NotNil(t, env.table.FindNode(remote))

	env.engine.Tick()
	require.Equal(t, 1, env.transport.sentCount())
	m, to := env.transport.sentMessage(t, 0)
	require.Equal(t, from.String(), to.String())
	require.Equal(t, krpc.KindResponse, m.Kind())
	require.Equal(t, "aa", m.TransactionID())
	id, _ := m.Return().String(krpc.KeyID)
	self := env.engine.SelfID()
	require.Equal(t, string(self[:]), id)
	require.Empty(t, env.done(), "answering a query raises no completion")
}

func TestInboundFindNode(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 12; i++ {
		env.table.Add(routing.NewNode(crypto.RandomNodeID(), peerAddr(byte(100+i))))
	}

	env.inject(t, queryFrom(crypto.RandomNodeID(), "fn", MethodFindNode, krpc.Dict{keyTarget: string(make([]byte, 20))}), peerAddr(21))
	env.engine.Tick()
	env.engine.Tick()

	m, _ := env.transport.sentMessage(t, 0)
	nodes, err := returnedNodes(m.Return())
	require.NoError(t, err)
	require.Len(t, nodes, 8)
}

func expectError(t *testing.T, env *testEnv, i int, tid string, code int) {
	m, _ := env.transport.sentMessage(t, i)
	require.Equal(t, krpc.KindError, m.Kind())
	require.Equal(t, tid, m.TransactionID())
	c, _, ok := m.ErrorInfo()
	require.True(t, ok)
	require.Equal(t, int64(code), c)
}

func TestInboundProtocolErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	from := peerAddr(22)

	env.inject(t, queryFrom(crypto.RandomNodeID(), "u1", "vote", nil), from)
	env.engine.Tick()
	env.engine.Tick()
	expectError(t, env, 0, "u1", krpc.ErrorMethodUnknown)

	// find_node without target
	env.inject(t, queryFrom(crypto.RandomNodeID(), "b1", MethodFindNode, nil), from)
	env.tickSpaced(2)
	expectError(t, env, 1, "b1", krpc.ErrorProtocol)
}

func TestMalformedDatagramDropped(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, data := range []string{"", "garbage", "d1:t2:aa", "li1ee", "d1:y1:re"} {
		env.engine.Receive(&utils.UDPPacket{Data: []byte(data), Addr: peerAddr(23)})
		env.engine.Tick()
	}
	require.Equal(t, 0, env.transport.sentCount())
	require.Equal(t, float64(5), testutil.ToFloat64(env.engine.Metrics().decodeErrors))

	// the loop keeps working
	env.inject(t, queryFrom(crypto.RandomNodeID(), "ok", MethodPing, nil), peerAddr(23))
	env.tickSpaced(2)
	require.Equal(t, 1, env.transport.sentCount())
}

type boomQuery struct {
	queryBase
}

func (b *boomQuery) Handle(e *Engine, n *routing.Node) error {
	panic("boom")
}

func (b *boomQuery) DecodeResponse(m *krpc.Message) (Message, error) {
	r, err := decodeResponseBase(m)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func TestHandlerPanicContained(t *testing.T) {
	env := newTestEnv(t, func(conf *Config) {
		conf.Registry = DefaultRegistry()
		conf.Registry.Register("boom", func(m *krpc.Message) (Query, error) {
			return &boomQuery{queryBase{base{raw: m}}}, nil
		})
	})
	from := peerAddr(24)

	env.inject(t, queryFrom(crypto.RandomNodeID(), "bo", "boom", nil), from)
	env.engine.Tick()
	env.engine.Tick()
	expectError(t, env, 0, "bo", krpc.ErrorServer)

	env.inject(t, queryFrom(crypto.RandomNodeID(), "pi", MethodPing, nil), from)
	env.tickSpaced(2)
	m, _ := env.transport.sentMessage(t, 1)
	require.Equal(t, krpc.KindResponse, m.Kind())
}

func TestGetPeersAndAnnounce(t *testing.T) {
	env := newTestEnv(t, nil)
	from := peerAddr(25)
	remote := crypto.RandomNodeID()
	infoHash := crypto.RandomNodeID()

	env.inject(t, queryFrom(remote, "g1", MethodGetPeers, krpc.Dict{keyInfoHash: string(infoHash[:])}), from)
	env.tickSpaced(2)
	m, _ := env.transport.sentMessage(t, 0)
	token, ok := m.Return().String(keyToken)
	require.True(t, ok)
	_, hasValues := m.Return()[keyValues]
	require.False(t, hasValues)

	// a token issued to another endpoint is refused
	other := peerAddr(26)
	env.inject(t, queryFrom(remote, "a0", MethodAnnouncePeer, krpc.Dict{
		keyInfoHash: string(infoHash[:]), keyPort: int64(51413), keyToken: token,
	}), other)
	env.tickSpaced(2)
	expectError(t, env, 1, "a0", krpc.ErrorProtocol)

	env.inject(t, queryFrom(remote, "a1", MethodAnnouncePeer, krpc.Dict{
		keyInfoHash: string(infoHash[:]), keyPort: int64(51413), keyToken: token,
	}), from)
	env.tickSpaced(2)
	m, _ = env.transport.sentMessage(t, 2)
	require.Equal(t, krpc.KindResponse, m.Kind())
	require.Equal(t, "a1", m.TransactionID())

	env.inject(t, queryFrom(remote, "g2", MethodGetPeers, krpc.Dict{keyInfoHash: string(infoHash[:])}), from)
	env.tickSpaced(2)
	m, _ = env.transport.sentMessage(t, 3)
	values, ok := m.Return().StringList(keyValues)
	require.True(t, ok)
	require.Len(t, values, 1)
	peer, err := krpc.ParseCompactEndpoint([]byte(values[0]))
	require.NoError(t, err)
	require.Equal(t, (&net.UDPAddr{IP: from.IP, Port: 51413}).String(), peer.String())
}

func TestVerifyReplySource(t *testing.T) {
	env := newTestEnv(t, func(conf *Config) { conf.VerifyReplySource = true })
	dest := peerAddr(30)

	q := NewPing(env.engine.SelfID())
	require.NoError(t, env.engine.EnqueueSend(q, dest))
	env.engine.Tick()

	env.inject(t, responseFrom(crypto.RandomNodeID(), q.TransactionID(), nil), peerAddr(31))
	env.engine.Tick()
	require.Empty(t, env.done())
	require.True(t, env.engine.Factory().IsPending(q.TransactionID()))

	env.clock.Add(3 * time.Second)
	env.engine.Tick()
	done := env.done()
	require.Len(t, done, 1)
	require.True(t, done[0].TimedOut())
}

func TestInboundRateLimit(t *testing.T) {
	env := newTestEnv(t, func(conf *Config) {
		conf.InboundRate = 1
		conf.InboundBurst = 2
	})
	from := peerAddr(40)

	for i := 0; i < 4; i++ {
		env.inject(t, queryFrom(crypto.RandomNodeID(), "r"+string(rune('0'+i)), MethodPing, nil), from)
	}
	require.Equal(t, 2, env.engine.Stats().RecvQueue)
	require.Equal(t, float64(2), testutil.ToFloat64(env.engine.Metrics().limited))

	env.inject(t, queryFrom(crypto.RandomNodeID(), "x1", MethodPing, nil), peerAddr(41))
	require.Equal(t, 3, env.engine.Stats().RecvQueue)
}

func TestRecvQueueBound(t *testing.T) {
	env := newTestEnv(t, func(conf *Config) {
		conf.RecvQueueSize = 2
		conf.InboundRate = 0
	})

	for i := 0; i < 5; i++ {
		env.inject(t, queryFrom(crypto.RandomNodeID(), "q"+string(rune('0'+i)), MethodPing, nil), peerAddr(42))
	}
	require.Equal(t, 2, env.engine.Stats().RecvQueue)
	require.Equal(t, float64(3), testutil.ToFloat64(env.engine.Metrics().dropped))
}

func TestBlockingQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	dest := peerAddr(50)
	remote := crypto.RandomNodeID()

	type result struct {
		resp Message
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := env.engine.Query(context.Background(), NewPing(env.engine.SelfID()), dest)
		ch <- result{resp, err}
	}()

	require.Eventually(t, func() bool {
		env.engine.Tick()
		return env.transport.sentCount() == 1
	}, time.Second, time.Millisecond)

	sent, _ := env.transport.sentMessage(t, 0)
	env.inject(t, responseFrom(remote, sent.TransactionID(), nil), dest)
	env.engine.Tick()

	r := <-ch
	require.NoError(t, r.err)
	require.IsType(t, &PingResponse{}, r.resp)
}

func TestBlockingQueryTimeout(t *testing.T) {
	env := newTestEnv(t, nil)

	ch := make(chan error, 1)
	go func() {
		_, err := env.engine.Query(context.Background(), NewPing(env.engine.SelfID()), peerAddr(51))
		ch <- err
	}()

	require.Eventually(t, func() bool {
		env.engine.Tick()
		return env.transport.sentCount() == 1
	}, time.Second, time.Millisecond)

	env.clock.Add(3 * time.Second)
	env.engine.Tick()
	require.ErrorIs(t, <-ch, ErrTimeout)
}

func TestBootstrap(t *testing.T) {
	tr := &transportMock{}
	self := crypto.RandomNodeID()
	table := routing.NewTable(self)
	conf := DefaultConfig()
	conf.TickInterval = time.Millisecond
	e := NewEngine(self, tr, table, conf)

	seed := peerAddr(60)
	seedID := crypto.RandomNodeID()
	found := []krpc.NodeInfo{
		{ID: crypto.RandomNodeID(), Addr: peerAddr(61)},
		{ID: crypto.RandomNodeID(), Addr: peerAddr(62)},
	}
	tr.onSend = func(packet *utils.UDPPacket) {
		m, err := krpc.Decode(packet.Data)
		if err != nil || m.Kind() != krpc.KindQuery {
			return
		}
		var values krpc.Dict
		id := seedID
		switch m.QueryName() {
		case MethodFindNode:
			values = krpc.Dict{keyNodes: krpc.EncodeNodes(found)}
		case MethodPing:
			for _, n := range found {
				if n.Addr.String() == packet.Addr.String() {
					id = n.ID
				}
			}
		}
		data, _ := responseFrom(id, m.TransactionID(), values).Encode()
		tr.deliver(data, packet.Addr)
	}

	_, err := e.Bootstrap(context.Background(), []*net.UDPAddr{seed})
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, e.Start())
	defer e.Stop()
	require.True(t, tr.IsListening())

	n, err := e.Bootstrap(context.Background(), []*net.UDPAddr{seed})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NotNil(t, table.FindNode(seedID))

	require.Eventually(t, func() bool {
		for _, info := range found {
			node := table.FindNode(info.ID)
			if node == nil || node.LastSeen().IsZero() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "found nodes are pinged")
}

func TestZeroConfigDefaults(t *testing.T) {
	env := newTestEnv(t, func(conf *Config) {
		*conf = Config{Clock: conf.Clock}
	})
	conf := env.engine.conf
	require.Equal(t, DefaultConfig().Timeout, conf.Timeout)
	require.Equal(t, DefaultConfig().MaxOutstanding, conf.MaxOutstanding)
	require.Equal(t, DefaultConfig().MinSendGap, conf.MinSendGap)
	require.Equal(t, DefaultConfig().TickInterval, conf.TickInterval)
	require.Equal(t, DefaultConfig().TokenRotation, conf.TokenRotation)

	require.NoError(t, env.engine.EnqueueSend(NewPing(env.engine.SelfID()), peerAddr(70)))
	for i := 0; i < 10; i++ {
		env.clock.Add(10 * time.Millisecond)
		env.engine.Tick()
	}
	require.Equal(t, 1, env.transport.sentCount())
	require.Empty(t, env.done(), "query must not time out after 100ms")

	token := env.engine.tokens.Generate(peerAddr(71))
	require.True(t, env.engine.tokens.Verify(peerAddr(71), token))
	env.clock.Add(time.Second)
	require.True(t, env.engine.tokens.Verify(peerAddr(71), token))

	require.NoError(t, env.engine.Start())
	env.engine.Stop()
}

func TestBootstrapPartialFailure(t *testing.T) {
	tr := &transportMock{}
	self := crypto.RandomNodeID()
	table := routing.NewTable(self)
	conf := DefaultConfig()
	conf.TickInterval = time.Millisecond
	conf.Timeout = 50 * time.Millisecond
	e := NewEngine(self, tr, table, conf)

	live, silent := peerAddr(80), peerAddr(81)
	found := krpc.NodeInfo{ID: crypto.RandomNodeID(), Addr: peerAddr(82)}
	tr.onSend = func(packet *utils.UDPPacket) {
		m, err := krpc.Decode(packet.Data)
		if err != nil || m.Kind() != krpc.KindQuery || packet.Addr.String() != live.String() {
			return
		}
		values := krpc.Dict{keyNodes: krpc.EncodeNodes([]krpc.NodeInfo{found})}
		data, _ := responseFrom(crypto.RandomNodeID(), m.TransactionID(), values).Encode()
		tr.deliver(data, packet.Addr)
	}

	require.NoError(t, e.Start())
	defer e.Stop()

	n, err := e.Bootstrap(context.Background(), []*net.UDPAddr{silent, live})
	require.NoError(t, err, "one answering seed is enough")
	require.Equal(t, 1, n)
	require.NotNil(t, table.FindNode(found.ID))

	_, err = e.Bootstrap(context.Background(), []*net.UDPAddr{silent, peerAddr(83)})
	require.ErrorIs(t, err, ErrTimeout)
	require.Len(t, multierr.Errors(err), 2)
}
