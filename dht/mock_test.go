package dht

import (
	"net"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

type transportMock struct {
	lock        sync.Mutex
	sent        []*utils.UDPPacket
	hold        bool // keep sent packets outstanding until release
	outstanding int
	listening   bool
	receiver    func(packet *utils.UDPPacket)
	onSend      func(packet *utils.UDPPacket)
}

func (t *transportMock) Start() error {
	t.lock.Lock()
	t.listening = true
	t.lock.Unlock()
	return nil
}

func (t *transportMock) Stop() {
	t.lock.Lock()
	t.listening = false
	t.lock.Unlock()
}

func (t *transportMock) IsListening() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.listening
}

func (t *transportMock) Send(packet *utils.UDPPacket) {
	t.lock.Lock()
	t.sent = append(t.sent, packet)
	if t.hold {
		t.outstanding++
	}
	onSend := t.onSend
	t.lock.Unlock()

	if onSend != nil {
		go onSend(packet)
	}
}

func (t *transportMock) Outstanding() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.outstanding
}

func (t *transportMock) SetReceiver(f func(packet *utils.UDPPacket)) {
	t.lock.Lock()
	t.receiver = f
	t.lock.Unlock()
}

func (t *transportMock) release(n int) {
	t.lock.Lock()
	t.outstanding -= n
	t.lock.Unlock()
}

func (t *transportMock) sentCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.sent)
}

// sentMessage decodes the i-th sent packet
func (t *transportMock) sentMessage(tt *testing.T, i int) (*krpc.Message, *net.UDPAddr) {
	t.lock.Lock()
	packet := t.sent[i]
	t.lock.Unlock()

	m, err := krpc.Decode(packet.Data)
	require.NoError(tt, err)
	return m, packet.Addr
}

func (t *transportMock) deliver(data []byte, from *net.UDPAddr) {
	t.lock.Lock()
	receiver := t.receiver
	t.lock.Unlock()
	if receiver != nil {
		receiver(&utils.UDPPacket{Data: data, Addr: from})
	}
}

type testEnv struct {
	engine    *Engine
	transport *transportMock
	clock     *clock.Mock
	table     *routing.Table

	lock        sync.Mutex
	completions []Completion
}

func newTestEnv(t *testing.T, modify func(conf *Config)) *testEnv {
	mock := clock.NewMock()
	conf := DefaultConfig()
	conf.Clock = mock
	if modify != nil {
		modify(&conf)
	}

	self := crypto.RandomNodeID()
	env := &testEnv{
		transport: &transportMock{},
		clock:     mock,
		table:     routing.NewTable(self, routing.WithClock(mock)),
	}
	env.engine = NewEngine(self, env.transport, env.table, conf)
	env.transport.SetReceiver(env.engine.Receive)
	env.engine.Subscribe(func(c Completion) {
		env.lock.Lock()
		env.completions = append(env.completions, c)
		env.lock.Unlock()
	})
	return env
}

func (env *testEnv) done() []Completion {
	env.lock.Lock()
	defer env.lock.Unlock()
	result := make([]Completion, len(env.completions))
	copy(result, env.completions)
	return result
}

// inject queues a datagram as if it came from the network
func (env *testEnv) inject(t *testing.T, m *krpc.Message, from *net.UDPAddr) {
	data, err := m.Encode()
	require.NoError(t, err)
	env.engine.Receive(&utils.UDPPacket{Data: data, Addr: from})
}

// tickSpaced advances the clock past the send gap before every tick
func (env *testEnv) tickSpaced(n int) {
	for i := 0; i < n; i++ {
		env.clock.Add(env.engine.conf.MinSendGap)
		env.engine.Tick()
	}
}

func peerAddr(last byte) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(10, 1, 1, last).To4(), Port: 6881}
}

func responseFrom(id crypto.NodeID, tid string, values krpc.Dict) *krpc.Message {
	if values == nil {
		values = krpc.Dict{}
	}
	values[krpc.KeyID] = string(id[:])
	return krpc.NewResponse(tid, values)
}

func queryFrom(id crypto.NodeID, tid, name string, args krpc.Dict) *krpc.Message {
	if args == nil {
		args = krpc.Dict{}
	}
	args[krpc.KeyID] = string(id[:])
	m := krpc.NewQuery(name, args)
	m.SetTransactionID(tid)
	return m
}
