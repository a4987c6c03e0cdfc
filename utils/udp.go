package utils

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	udpRecvBufferSize = 2048
	udpRecvTimeout    = 2 * time.Second
	udpSendQSize      = 1024
)

var udpLogger = NewLogger("udp")

type UDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// UDPServer is the datagram transport shared by the DHT engine.
// Send is fire-and-forget; received datagrams are pushed to the receiver callback.
type UDPServer interface {
	SetReceiver(f func(packet *UDPPacket))
	Send(packet *UDPPacket)

	// Outstanding returns the number of packets accepted by Send but not yet written
	Outstanding() int

	LocalAddr() *net.UDPAddr
	IsListening() bool
	Start() error
	Stop()
}

func NewUDPServer(ip net.IP, port int) UDPServer {
	return &udpServer{
		ip:    ip,
		port:  port,
		sendQ: make(chan *UDPPacket, udpSendQSize),
		lm:    NewLoop(),
	}
}

type udpServer struct {
	ip          net.IP
	port        int
	conn        *net.UDPConn
	sendQ       chan *UDPPacket
	outstanding int32
	lm          *LoopMode

	mu       sync.RWMutex
	receiver func(packet *UDPPacket)
}

func (u *udpServer) SetReceiver(f func(packet *UDPPacket)) {
	u.mu.Lock()
	u.receiver = f
	u.mu.Unlock()
}

func (u *udpServer) Send(packet *UDPPacket) {
	atomic.AddInt32(&u.outstanding, 1)
	select {
	case u.sendQ <- packet:
	default:
		atomic.AddInt32(&u.outstanding, -1)
		udpLogger.Warnln("udp server sendQ is full, drop packet")
	}
}

func (u *udpServer) Outstanding() int {
	return int(atomic.LoadInt32(&u.outstanding))
}

func (u *udpServer) LocalAddr() *net.UDPAddr {
	if u.conn == nil {
		return &net.UDPAddr{IP: u.ip, Port: u.port}
	}
	return u.conn.LocalAddr().(*net.UDPAddr)
}

func (u *udpServer) IsListening() bool {
	return u.lm.IsWorking()
}

func (u *udpServer) Start() error {
	udpAddr := &net.UDPAddr{
		IP:   u.ip,
		Port: u.port,
	}
	var err error

	if u.conn, err = net.ListenUDP("udp", udpAddr); err != nil {
		return fmt.Errorf("setup UDP server failed:%v", err)
	}

	u.lm.Go(u.recv)
	u.lm.Go(u.send)
	u.lm.StartWorking()
	return nil
}

func (u *udpServer) Stop() {
	if u.lm.Stop() {
		u.conn.Close()
	}
}

func (u *udpServer) recv() {
	for {
		select {
		case <-u.lm.D:
			return
		default:
			packBuf := make([]byte, udpRecvBufferSize)
			u.conn.SetReadDeadline(time.Now().Add(udpRecvTimeout))
			n, addr, err := u.conn.ReadFromUDP(packBuf)

			if err != nil {
				if err, ok := err.(net.Error); ok && err.Timeout() {
					break
				}
				if !u.lm.IsWorking() {
					return
				}
				udpLogger.Warn("udp server read err:%v\n", err)
				break
			}

			u.mu.RLock()
			receiver := u.receiver
			u.mu.RUnlock()
			if receiver == nil {
				udpLogger.Debug("no receiver, drop packet from %v\n", addr)
				break
			}
			receiver(&UDPPacket{
				Data: packBuf[:n],
				Addr: addr,
			})
		}
	}
}

func (u *udpServer) send() {
	for {
		select {
		case <-u.lm.D:
			return
		case packet := <-u.sendQ:
			_, err := u.conn.WriteToUDP(packet.Data, packet.Addr)
			atomic.AddInt32(&u.outstanding, -1)
			if err != nil {
				udpLogger.Warn("udp server send to %v failed:%v, size:%d\n",
					packet.Addr, err, len(packet.Data))
			}
		}
	}
}
