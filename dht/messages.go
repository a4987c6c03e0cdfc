package dht

import (
	"fmt"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/serialize/krpc"
)

// Message is one decoded KRPC message of a known kind
type Message interface {
	// Raw returns the backing dictionary
	Raw() *krpc.Message

	TransactionID() string

	// ID returns the node id the sender claims, false for kinds that don't carry one
	ID() (crypto.NodeID, bool)

	// Handle runs once the sender's node was resolved and marked seen.
	// It's called with the engine lock held, replies go through Engine.Respond.
	Handle(e *Engine, n *routing.Node) error
}

// Query is an outbound or inbound query; each kind decodes its own response
type Query interface {
	Message
	Name() string
	DecodeResponse(m *krpc.Message) (Message, error)
}

// QueryDecoder builds the query of one method from an inbound message
type QueryDecoder func(m *krpc.Message) (Query, error)

type base struct {
	raw *krpc.Message
}

func (b *base) Raw() *krpc.Message {
	return b.raw
}

func (b *base) TransactionID() string {
	return b.raw.TransactionID()
}

func (b *base) String() string {
	return b.raw.String()
}

// Handle does nothing, the node is already marked seen
func (b *base) Handle(e *Engine, n *routing.Node) error {
	return nil
}

func senderID(d krpc.Dict) (crypto.NodeID, bool) {
	s, ok := d.String(krpc.KeyID)
	if !ok {
		return crypto.NodeID{}, false
	}
	id, err := crypto.NodeIDFromBytes([]byte(s))
	if err != nil {
		return crypto.NodeID{}, false
	}
	return id, true
}

// queryBase is embedded by every query kind
type queryBase struct {
	base
}

func (q *queryBase) Name() string {
	return q.raw.QueryName()
}

func (q *queryBase) ID() (crypto.NodeID, bool) {
	return senderID(q.raw.Args())
}

// argID checks the mandatory id of an inbound query
func argID(name string, args krpc.Dict) error {
	if args == nil {
		return errBadArgs(name, "missing args")
	}
	if _, ok := senderID(args); !ok {
		return errBadArgs(name, "bad id")
	}
	return nil
}

func argHash(name, key string, args krpc.Dict) (crypto.NodeID, error) {
	s, ok := args.String(key)
	if !ok {
		return crypto.NodeID{}, errBadArgs(name, "missing "+key)
	}
	id, err := crypto.NodeIDFromBytes([]byte(s))
	if err != nil {
		return crypto.NodeID{}, errBadArgs(name, "bad "+key)
	}
	return id, nil
}

// responseBase is embedded by every response kind
type responseBase struct {
	base
}

func (r *responseBase) ID() (crypto.NodeID, bool) {
	return senderID(r.raw.Return())
}

func decodeResponseBase(m *krpc.Message) (responseBase, error) {
	if m.Kind() != krpc.KindResponse {
		return responseBase{}, fmt.Errorf("expect response, got %q", m.Kind())
	}
	if _, ok := senderID(m.Return()); !ok {
		return responseBase{}, fmt.Errorf("response without valid id")
	}
	return responseBase{base{raw: m}}, nil
}

// ErrorMessage is a KRPC error reply
type ErrorMessage struct {
	base
	Code   int64
	Reason string
}

func decodeError(m *krpc.Message) *ErrorMessage {
	code, reason, ok := m.ErrorInfo()
	if !ok {
		code, reason = krpc.ErrorGeneric, "malformed error"
	}
	return &ErrorMessage{
		base:   base{raw: m},
		Code:   code,
		Reason: reason,
	}
}

// ID is unknown, error replies don't carry the sender id
func (e *ErrorMessage) ID() (crypto.NodeID, bool) {
	return crypto.NodeID{}, false
}

func (e *ErrorMessage) remoteError() *RemoteError {
	return &RemoteError{Code: e.Code, Message: e.Reason}
}
