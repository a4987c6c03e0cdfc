package dht

import (
	"fmt"
	"net"

	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

// Tick runs one send step, one receive step and one timeout step.
// Completions are raised after the engine lock is released.
func (e *Engine) Tick() {
	var done []Completion

	e.lock.Lock()
	done = e.sendStep(done)
	done = e.recvStep(done)
	done = e.timeoutStep(done)

	e.metrics.sendQueue.Set(float64(e.sendQ.Len()))
	e.metrics.recvQueue.Set(float64(len(e.recvQ)))
	e.metrics.waiting.Set(float64(e.waiting.Len()))
	e.lock.Unlock()

	e.notify(done)
}

func (e *Engine) sendStep(done []Completion) []Completion {
	if e.sendQ.Len() == 0 || e.transport.Outstanding() >= e.conf.MaxOutstanding {
		return done
	}
	now := e.clk.Now()
	if !e.lastSend.IsZero() && now.Sub(e.lastSend) < e.conf.MinSendGap {
		return done
	}

	entry := e.sendQ.Remove(e.sendQ.Front()).(*sendEntry)
	data, err := entry.raw.Encode()
	if err != nil {
		logger.Warn("encode %v failed:%v\n", entry.raw, err)
		if entry.query != nil && e.factory.UnregisterSend(entry.query) {
			done = append(done, Completion{Addr: entry.addr, Query: entry.query, Err: err})
		}
		return done
	}

	e.transport.Send(&utils.UDPPacket{Data: data, Addr: entry.addr})
	e.lastSend = now
	entry.sentAt = now
	e.metrics.sent.WithLabelValues(entry.raw.Kind()).Inc()
	logger.Debug("send %v to %v\n", entry.raw, entry.addr)

	if entry.query != nil {
		e.waiting.PushBack(entry)
	}
	return done
}

func (e *Engine) recvStep(done []Completion) []Completion {
	if len(e.recvQ) == 0 {
		return done
	}
	packet := e.recvQ[0]
	e.recvQ[0] = nil
	e.recvQ = e.recvQ[1:]

	raw, err := krpc.Decode(packet.Data)
	if err != nil {
		e.metrics.decodeErrors.Inc()
		logger.Debug("drop datagram from %v:%v\n", packet.Addr, err)
		return done
	}
	kind := raw.Kind()
	e.metrics.received.WithLabelValues(kind).Inc()

	// a reply leaves the waiting list before it's decoded
	var entry *sendEntry
	if kind != krpc.KindQuery {
		if entry = e.takeWaiting(raw.TransactionID(), packet); entry == nil {
			logger.Debug("drop %v from %v:%v\n", raw, packet.Addr, ErrUnknownTransaction)
			return done
		}
	}

	msg, q, err := e.factory.Decode(raw)
	if err != nil {
		if kind == krpc.KindQuery {
			logger.Debug("bad query from %v:%v\n", packet.Addr, err)
			e.respondError(raw.TransactionID(), err, packet.Addr)
		} else {
			logger.Debug("bad reply from %v:%v\n", packet.Addr, err)
			done = append(done, Completion{Addr: entry.addr, Query: entry.query, Err: err})
		}
		return done
	}

	var node *routing.Node
	if id, ok := msg.ID(); ok {
		if node = e.routing.FindNode(id); node == nil {
			node = routing.NewNode(id, packet.Addr)
			e.routing.Add(node)
		}
		node.MarkSeen()
	}

	if err := e.handle(msg, node, packet); err != nil {
		logger.Warn("handle %v from %v failed:%v\n", raw, packet.Addr, err)
		if kind == krpc.KindQuery {
			e.respondError(raw.TransactionID(), err, packet.Addr)
		}
	}

	if entry == nil {
		return done
	}
	if q == nil {
		q = entry.query
	}
	c := Completion{Addr: entry.addr, Query: q}
	if em, ok := msg.(*ErrorMessage); ok {
		c.Err = em.remoteError()
	} else {
		c.Response = msg
	}
	return append(done, c)
}

// takeWaiting removes the waiting query with tid, nil if there is none or
// the reply source is rejected
func (e *Engine) takeWaiting(tid string, packet *utils.UDPPacket) *sendEntry {
	for el := e.waiting.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*sendEntry)
		if entry.raw.TransactionID() != tid {
			continue
		}
		if e.conf.VerifyReplySource && !sameEndpoint(entry.addr, packet.Addr) {
			logger.Warn("reply to %v came from %v, drop\n", entry.addr, packet.Addr)
			return nil
		}
		e.waiting.Remove(el)
		return entry
	}
	return nil
}

// handle contains a panicking handler to its own message
func (e *Engine) handle(msg Message, node *routing.Node, packet *utils.UDPPacket) (err error) {
	e.source = packet.Addr
	defer func() {
		e.source = nil
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return msg.Handle(e, node)
}

func (e *Engine) timeoutStep(done []Completion) []Completion {
	front := e.waiting.Front()
	if front == nil {
		return done
	}
	entry := front.Value.(*sendEntry)
	if e.clk.Now().Sub(entry.sentAt) <= e.conf.Timeout {
		return done
	}

	e.waiting.Remove(front)
	e.factory.UnregisterSend(entry.query)
	e.metrics.timeouts.Inc()
	logger.Debug("%v to %v timeout\n", entry.raw, entry.addr)
	return append(done, Completion{Addr: entry.addr, Query: entry.query})
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
