package dht

import (
	"sync"

	"github.com/996BC/996.DHT/serialize/krpc"
)

// Registry maps query names to their decoders.
// It's built once before the engine starts and copied into the factory.
type Registry struct {
	decoders map[string]QueryDecoder
}

func NewRegistry() Registry {
	return Registry{decoders: make(map[string]QueryDecoder)}
}

// DefaultRegistry knows ping, find_node, get_peers and announce_peer
func DefaultRegistry() Registry {
	r := NewRegistry()
	r.Register(MethodPing, decodePing)
	r.Register(MethodFindNode, decodeFindNode)
	r.Register(MethodGetPeers, decodeGetPeers)
	r.Register(MethodAnnouncePeer, decodeAnnouncePeer)
	return r
}

// Register adds or replaces the decoder of name
func (r Registry) Register(name string, d QueryDecoder) {
	r.decoders[name] = d
}

func (r Registry) Names() []string {
	result := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		result = append(result, name)
	}
	return result
}

// MessageFactory turns raw messages into typed ones and matches
// replies with the queries we have in flight.
type MessageFactory struct {
	decoders map[string]QueryDecoder

	lock    sync.Mutex
	pending map[string]Query
}

func NewMessageFactory(r Registry) *MessageFactory {
	decoders := make(map[string]QueryDecoder, len(r.decoders))
	for name, d := range r.decoders {
		decoders[name] = d
	}
	return &MessageFactory{
		decoders: decoders,
		pending:  make(map[string]Query),
	}
}

// RegisterSend records q as in flight under its transaction id
func (f *MessageFactory) RegisterSend(q Query) error {
	tid := q.TransactionID()
	if len(tid) == 0 {
		return ErrMissingTransactionID
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if _, ok := f.pending[tid]; ok {
		return ErrTransactionPending
	}
	f.pending[tid] = q
	return nil
}

// UnregisterSend removes q, false if it was not in flight
func (f *MessageFactory) UnregisterSend(q Query) bool {
	tid := q.TransactionID()

	f.lock.Lock()
	defer f.lock.Unlock()

	if p, ok := f.pending[tid]; ok && p == q {
		delete(f.pending, tid)
		return true
	}
	return false
}

func (f *MessageFactory) IsPending(tid string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	_, ok := f.pending[tid]
	return ok
}

func (f *MessageFactory) Pending() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.pending)
}

func (f *MessageFactory) take(tid string) (Query, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()

	q, ok := f.pending[tid]
	if ok {
		delete(f.pending, tid)
	}
	return q, ok
}

// Decode returns the typed message of m and, for replies, the query it answers.
// Unknown methods and bad query args are *ProtocolError, a reply matching nothing
// in flight is ErrUnknownTransaction and a malformed response is *krpc.DecodeError.
// A matched query is removed from the pending set even when its response is malformed.
func (f *MessageFactory) Decode(m *krpc.Message) (Message, Query, error) {
	switch m.Kind() {
	case krpc.KindQuery:
		name := m.QueryName()
		d, ok := f.decoders[name]
		if !ok {
			return nil, nil, errMethodUnknown(name)
		}
		q, err := d(m)
		if err != nil {
			if _, ok := err.(*ProtocolError); !ok {
				err = errBadArgs(name, err.Error())
			}
			return nil, nil, err
		}
		return q, nil, nil

	case krpc.KindError:
		e := decodeError(m)
		q, _ := f.take(m.TransactionID())
		return e, q, nil

	default:
		q, ok := f.take(m.TransactionID())
		if !ok {
			return nil, nil, ErrUnknownTransaction
		}
		resp, err := q.DecodeResponse(m)
		if err != nil {
			return nil, q, &krpc.DecodeError{Reason: "malformed " + q.Name() + " response", Err: err}
		}
		return resp, q, nil
	}
}
