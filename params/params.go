package params

import "time"

// ClientVersion is sent as the "v" key of every outgoing message:
// two bytes client id followed by two bytes version.
const ClientVersion = "9D\x00\x01"

/////////////////////////////////////////////////////////////////

const (
	// NodeIDLength is the size of a DHT node id and of an info hash
	NodeIDLength = 20

	// TransactionIDLength is the size of the ids this node assigns to its queries
	TransactionIDLength = 2

	// MaxDatagramSize bounds a single KRPC message
	MaxDatagramSize = 2048
)

////////////////////////////////////////////////////////////////

// message loop policy
const (
	TickInterval   = 5 * time.Millisecond
	QueryTimeout   = 2 * time.Second
	MaxOutstanding = 5
	MinSendGap     = 5 * time.Millisecond
	RecvQueueSize  = 1024

	// BootstrapParallel bounds the seeds queried at the same time
	BootstrapParallel = 8
)

// inbound per-peer limits
const (
	InboundRate      = 20
	InboundBurst     = 40
	InboundPeerCache = 4096
)

// token policy
const (
	TokenRotation = 5 * time.Minute
	SecretLength  = 20
)

// routing and storage policy
const (
	// K is the number of nodes returned by find_node and get_peers
	K                 = 8
	RoutingCapacity   = 2048
	NodeExpiredTime   = 15 * time.Minute
	RefreshInterval   = 5 * time.Minute
	AnnouncedPeerTTL  = 30 * time.Minute
	MaxPeersPerAnswer = 50
)
