package dht

import (
	"sync"

	"github.com/996BC/996.DHT/params"
)

// TransactionIDGenerator hands out two byte transaction ids.
// The low byte is incremented after every allocation and carries into the high byte.
type TransactionIDGenerator struct {
	lock sync.Mutex
	next [params.TransactionIDLength]byte
}

func NewTransactionIDGenerator() *TransactionIDGenerator {
	return &TransactionIDGenerator{}
}

// Next doesn't know which ids are still in flight, the caller rechecks the result
func (g *TransactionIDGenerator) Next() string {
	g.lock.Lock()
	defer g.lock.Unlock()

	id := string(g.next[:])
	g.next[1]++
	if g.next[1] == 0 {
		g.next[0]++
	}
	return id
}
