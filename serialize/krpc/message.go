package krpc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/bencode"

	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/utils"
)

var logger = utils.NewLogger("krpc")

// ErrTransactionAssigned is returned when a message already carries a transaction id
var ErrTransactionAssigned = errors.New("transaction id already assigned")

// DecodeError reports bytes that are not a valid KRPC dictionary
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("krpc decode: %s: %v", e.Reason, e.Err)
	}
	return "krpc decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Message is the backing dictionary of one KRPC message
type Message struct {
	dict Dict
}

func newMessage(kind string) *Message {
	return &Message{
		dict: Dict{
			KeyKind:    kind,
			KeyVersion: params.ClientVersion,
		},
	}
}

// NewQuery returns a query without transaction id, it's assigned when the query is sent
func NewQuery(name string, args Dict) *Message {
	m := newMessage(KindQuery)
	m.dict[KeyQuery] = name
	m.dict[KeyArgs] = args
	return m
}

// NewResponse returns a response echoing the transaction id of the query it answers
func NewResponse(tid string, values Dict) *Message {
	m := newMessage(KindResponse)
	m.dict[KeyReturn] = values
	if len(tid) != 0 {
		m.dict[KeyTransaction] = tid
	}
	return m
}

// NewError returns an error echoing the transaction id of the query it answers
func NewError(tid string, code int, msg string) *Message {
	m := newMessage(KindError)
	m.dict[KeyError] = []interface{}{int64(code), msg}
	if len(tid) != 0 {
		m.dict[KeyTransaction] = tid
	}
	return m
}

// Decode parses data as one bencoded KRPC dictionary.
// Only the keys needed to route the message are validated.
func Decode(data []byte) (m *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, &DecodeError{Reason: fmt.Sprintf("panic %v", r)}
		}
	}()

	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty packet"}
	}
	if data[0] != 'd' {
		return nil, &DecodeError{Reason: "not a dictionary"}
	}

	var raw map[string]interface{}
	if err := bencode.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Reason: "bad bencode", Err: err}
	}

	d := Dict(raw)
	kind, ok := d.String(KeyKind)
	if !ok {
		return nil, &DecodeError{Reason: "missing message kind"}
	}
	if !validKind(kind) {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message kind %q", kind)}
	}
	if _, ok := d.String(KeyTransaction); !ok {
		return nil, &DecodeError{Reason: "missing transaction id"}
	}

	return &Message{dict: d}, nil
}

// Encode serializes the dictionary, keys sorted
func (m *Message) Encode() ([]byte, error) {
	return bencode.Marshal(m.dict)
}

// EncodeTo appends the encoded message to buf and returns the number of bytes written
func (m *Message) EncodeTo(buf *bytes.Buffer) (int, error) {
	data, err := m.Encode()
	if err != nil {
		return 0, err
	}
	if len(data) > params.MaxDatagramSize {
		logger.Warn("encoded %s message is %d bytes\n", m.Kind(), len(data))
	}
	return buf.Write(data)
}

func (m *Message) Kind() string {
	kind, _ := m.dict.String(KeyKind)
	return kind
}

func (m *Message) TransactionID() string {
	tid, _ := m.dict.String(KeyTransaction)
	return tid
}

func (m *Message) HasTransactionID() bool {
	_, ok := m.dict[KeyTransaction]
	return ok
}

// SetTransactionID assigns tid once
func (m *Message) SetTransactionID(tid string) error {
	if m.HasTransactionID() {
		return ErrTransactionAssigned
	}
	m.dict[KeyTransaction] = tid
	return nil
}

func (m *Message) Version() (string, bool) {
	return m.dict.String(KeyVersion)
}

func (m *Message) QueryName() string {
	name, _ := m.dict.String(KeyQuery)
	return name
}

// Args returns the argument dict of a query, nil if absent
func (m *Message) Args() Dict {
	args, _ := m.dict.Sub(KeyArgs)
	return args
}

// Return returns the value dict of a response, nil if absent
func (m *Message) Return() Dict {
	r, _ := m.dict.Sub(KeyReturn)
	return r
}

// ErrorInfo returns the code and message of an error
func (m *Message) ErrorInfo() (int64, string, bool) {
	l, ok := m.dict.List(KeyError)
	if !ok || len(l) < 2 {
		return 0, "", false
	}
	code, ok := l[0].(int64)
	if !ok {
		return 0, "", false
	}
	msg, ok := l[1].(string)
	if !ok {
		return 0, "", false
	}
	return code, msg, true
}

// Dict exposes the backing dictionary
func (m *Message) Dict() Dict {
	return m.dict
}

func (m *Message) String() string {
	switch m.Kind() {
	case KindQuery:
		return fmt.Sprintf("query %s t %X", m.QueryName(), m.TransactionID())
	case KindError:
		code, msg, _ := m.ErrorInfo()
		return fmt.Sprintf("error %d %q t %X", code, msg, m.TransactionID())
	default:
		return fmt.Sprintf("%s t %X", m.Kind(), m.TransactionID())
	}
}
