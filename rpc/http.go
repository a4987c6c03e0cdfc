package rpc

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/996BC/996.DHT/dht"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/utils"
)

var logger = utils.NewLogger("http")

const (
	// LocalHost "127.0.0.1"
	LocalHost = "127.0.0.1"
	// DefaultHTTPPort 23666
	DefaultHTTPPort = 23666

	version1Path  = "/v1"
	MetricsPath   = "/metrics"
	AddrParam     = "addr"
	InfoHashParam = "info_hash"
)

// Nodes is the view of the routing table the server reports
type Nodes interface {
	Nodes() []*routing.Node
	Size() int
}

type Config struct {
	Port   int
	Engine *dht.Engine
	Table  Nodes
}

// Server is a http server exposing the node state and a few diagnostic queries;
// it only listens on 127.0.0.1
type Server struct {
	*http.Server
	e     *dht.Engine
	table Nodes
}

type HTTPHandlers = []struct {
	Path string
	F    func(http.ResponseWriter, *http.Request)
}

func NewServer(conf *Config) *Server {
	s := &Server{
		e:     conf.Engine,
		table: conf.Table,
	}

	sMux := http.NewServeMux()
	for _, handler := range s.nodeHandlers() {
		sMux.HandleFunc(handler.Path, handler.F)
	}
	for _, handler := range s.queryHandlers() {
		sMux.HandleFunc(handler.Path, handler.F)
	}
	sMux.Handle(MetricsPath, promhttp.HandlerFor(conf.Engine.Metrics().Registry(), promhttp.HandlerOpts{}))

	//default handler
	sMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	s.Server = &http.Server{
		Addr:    net.JoinHostPort(LocalHost, strconv.Itoa(conf.Port)),
		Handler: sMux,
	}
	return s
}

// Start binds the port before returning so a busy port is reported to the caller
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.Serve(ln); err != http.ErrServerClosed {
			logger.Error("Http server serve failed:%v\n", err)
		}
	}()
	logger.Info("http server listen on %s\n", s.Addr)
	return nil
}

func (s *Server) Stop() error {
	if err := s.Shutdown(context.Background()); err != nil {
		logger.Warn("HTTP server shutdown err:%v\n", err)
		return err
	}
	return nil
}
