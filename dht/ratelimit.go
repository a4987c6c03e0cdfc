package dht

import (
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// inboundLimiter bounds the datagrams accepted from one IP.
// Buckets of the least recently seen IPs are forgotten once cacheSize is reached.
type inboundLimiter struct {
	limit rate.Limit
	burst int
	clk   clock.Clock

	lock    sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

func newInboundLimiter(perSecond float64, burst, cacheSize int, clk clock.Clock) *inboundLimiter {
	buckets, err := lru.New[string, *rate.Limiter](cacheSize)
	if err != nil {
		logger.Fatal("create inbound limiter failed:%v\n", err)
	}
	return &inboundLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clk:     clk,
		buckets: buckets,
	}
}

// Allow reports whether one more datagram from ip is accepted now.
// A non positive rate disables the limit.
func (l *inboundLimiter) Allow(ip net.IP) bool {
	if l.limit <= 0 {
		return true
	}

	key := ip.String()

	l.lock.Lock()
	defer l.lock.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, b)
	}
	return b.AllowN(l.clk.Now(), 1)
}
