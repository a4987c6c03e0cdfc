package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"hash"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/serialize/krpc"
)

// TokenManager issues the get_peers tokens that announce_peer must present.
// A token is sha1(compact endpoint || secret); tokens of the previous secret
// stay valid until the next rotation.
type TokenManager struct {
	interval time.Duration
	clk      clock.Clock

	lock         sync.Mutex
	h            hash.Hash
	current      []byte
	previous     []byte
	lastRotation time.Time
	rotations    uint64
}

func NewTokenManager(interval time.Duration, clk clock.Clock) *TokenManager {
	if clk == nil {
		clk = clock.New()
	}
	t := &TokenManager{
		interval: interval,
		clk:      clk,
		h:        sha1.New(),
		current:  make([]byte, params.SecretLength),
		previous: make([]byte, params.SecretLength),
	}

	t.lock.Lock()
	t.rotate(clk.Now())
	copy(t.previous, t.current)
	t.lock.Unlock()
	return t
}

// Generate returns the token of addr under the current secret
func (t *TokenManager) Generate(addr *net.UDPAddr) []byte {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.refresh()
	return t.hash(krpc.CompactEndpoint(addr), t.current)
}

// Verify accepts tokens of the current and the previous secret
func (t *TokenManager) Verify(addr *net.UDPAddr, token []byte) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.refresh()
	compact := krpc.CompactEndpoint(addr)
	if subtle.ConstantTimeCompare(token, t.hash(compact, t.current)) == 1 {
		return true
	}
	return subtle.ConstantTimeCompare(token, t.hash(compact, t.previous)) == 1
}

// Rotations returns how many secrets were generated, the first one included
func (t *TokenManager) Rotations() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.rotations
}

// refresh rotates at most once however long the interval was exceeded
func (t *TokenManager) refresh() {
	now := t.clk.Now()
	if now.Sub(t.lastRotation) >= t.interval {
		t.rotate(now)
	}
}

func (t *TokenManager) rotate(now time.Time) {
	t.previous, t.current = t.current, t.previous
	if _, err := rand.Read(t.current); err != nil {
		logger.Fatal("generate token secret failed:%v\n", err)
	}
	t.lastRotation = now
	t.rotations++
	logger.Debug("token secret rotated, %d\n", t.rotations)
}

func (t *TokenManager) hash(compact, secret []byte) []byte {
	t.h.Reset()
	t.h.Write(compact)
	t.h.Write(secret)
	return t.h.Sum(nil)
}
