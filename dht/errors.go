package dht

import (
	"errors"
	"fmt"

	"github.com/996BC/996.DHT/serialize/krpc"
)

var (
	// ErrMissingTransactionID is returned when a response or error is sent without echoing a query's id
	ErrMissingTransactionID = errors.New("response without transaction id")

	// ErrTransactionPending is returned when a query is registered under an id already in flight
	ErrTransactionPending = errors.New("transaction id already pending")

	// ErrUnknownTransaction reports a reply matching no query in flight, a late reply included
	ErrUnknownTransaction = errors.New("unknown or expired transaction")

	// ErrTimeout is returned by Engine.Query when no reply arrived in time
	ErrTimeout = errors.New("query timeout")

	ErrNotRunning = errors.New("engine not running")
)

// ProtocolError is a well formed message that can't be served.
// When it's caused by an inbound query it's sent back as a KRPC error.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("krpc protocol error %d: %s", e.Code, e.Message)
}

func newProtocolError(code int, format string, v ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, v...)}
}

func errMethodUnknown(name string) *ProtocolError {
	return newProtocolError(krpc.ErrorMethodUnknown, "Method Unknown %q", name)
}

func errBadArgs(name, reason string) *ProtocolError {
	return newProtocolError(krpc.ErrorProtocol, "%s: %s", name, reason)
}

var errServer = &ProtocolError{Code: krpc.ErrorServer, Message: "Server Error"}

// RemoteError is the KRPC error a peer answered our query with
type RemoteError struct {
	Code    int64
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
