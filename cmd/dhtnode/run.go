package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/996BC/996.DHT/db"
	"github.com/996BC/996.DHT/dht"
	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/routing"
	"github.com/996BC/996.DHT/rpc"
	"github.com/996BC/996.DHT/utils"
)

func runCmd() *cobra.Command {
	var cf string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := parseConfig(cf)
			if err != nil {
				return err
			}
			return run(conf)
		},
	}
	cmd.Flags().StringVarP(&cf, "config", "c", "", "config file")
	return cmd
}

func run(conf *config) (err error) {
	utils.SetLogLevel(conf.LogLevel)
	logger := utils.GetStdoutLog()
	defer utils.Sync()

	selfID, err := loadNodeID(conf.Key)
	if err != nil {
		return err
	}
	logger.Info("node id %v\n", selfID)

	// db
	store, err := db.Open(conf.DataPath)
	if err != nil {
		return err
	}
	logger.Info("database initialize successfully under the data path:%s\n", conf.DataPath)

	// routing table, reloads the persisted nodes
	table := routing.NewTable(selfID, routing.WithStore(store))
	table.Start()

	// transport
	udp := utils.NewUDPServer(net.ParseIP(conf.IP), conf.Port)
	if err = udp.Start(); err != nil {
		table.Stop()
		return multierr.Append(err, store.Close())
	}

	// engine
	engineConf := conf.engineConfig()
	engineConf.Peers = store
	engine := dht.NewEngine(selfID, udp, table, engineConf)
	if err = engine.Start(); err != nil {
		udp.Stop()
		table.Stop()
		return multierr.Append(err, store.Close())
	}

	// local http server, optional: a busy port is not fatal
	httpServer := startHTTP(conf.HTTPPort, engine, table)

	// bootstrap until SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	keepBootstrapped(ctx, engine, table, parseSeeds(conf.Seeds))

	logger.Infoln("Quiting......")
	if httpServer != nil {
		err = multierr.Append(err, httpServer.Stop())
	}
	engine.Stop()
	udp.Stop()
	table.Stop()
	err = multierr.Append(err, store.Close())
	logger.Infoln("Bye!")
	return err
}

// startHTTP returns nil when the port is 0 or the server fails to start
func startHTTP(port int, engine *dht.Engine, table *routing.Table) *rpc.Server {
	if port == 0 {
		return nil
	}

	s := rpc.NewServer(&rpc.Config{
		Port:   port,
		Engine: engine,
		Table:  table,
	})
	if err := s.Start(); err != nil {
		utils.GetStdoutLog().Warn("http server start failed:%v\n", err)
		return nil
	}
	return s
}

// keepBootstrapped bootstraps at start and again whenever the table runs low
func keepBootstrapped(ctx context.Context, engine *dht.Engine, table *routing.Table, seeds []*net.UDPAddr) {
	logger := utils.GetStdoutLog()
	ticker := time.NewTicker(params.RefreshInterval)
	defer ticker.Stop()

	for {
		if table.Size() < params.K {
			if _, err := engine.Bootstrap(ctx, seeds); err != nil && ctx.Err() == nil {
				logger.Warn("bootstrap failed:%v\n", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
