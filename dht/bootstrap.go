package dht

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/routing"
)

// Bootstrap asks every seed for the nodes close to us, adds them to the
// routing table and pings them. It fails only when no seed answered.
func (e *Engine) Bootstrap(ctx context.Context, seeds []*net.UDPAddr) (int, error) {
	if !e.IsRunning() {
		return 0, ErrNotRunning
	}
	if len(seeds) == 0 {
		return 0, nil
	}

	var (
		lock     sync.Mutex
		errs     error
		answered int
		found    int
	)

	var g errgroup.Group
	g.SetLimit(params.BootstrapParallel)
	for _, seed := range seeds {
		seed := seed
		g.Go(func() error {
			resp, err := e.Query(ctx, NewFindNode(e.selfID, e.selfID), seed)
			if err != nil {
				err = fmt.Errorf("seed %v: %w", seed, err)
				lock.Lock()
				errs = multierr.Append(errs, err)
				lock.Unlock()
				return err
			}

			fn, ok := resp.(*FindNodeResponse)
			if !ok {
				return fmt.Errorf("seed %v: unexpected response %T", seed, resp)
			}
			added := 0
			for _, info := range fn.Nodes {
				if e.routing.Add(routing.NewNode(info.ID, info.Addr)) {
					added++
					if err := e.EnqueueSend(NewPing(e.selfID), info.Addr); err != nil {
						logger.Warn("ping %v failed:%v\n", info, err)
					}
				}
			}

			lock.Lock()
			answered++
			found += added
			lock.Unlock()
			return nil
		})
	}

	// Wait reports the first failed seed, errs holds all of them
	failed := g.Wait()
	logger.Info("bootstrap: %d/%d seeds answered, %d new nodes\n", answered, len(seeds), found)
	if answered == 0 {
		return 0, errs
	}
	if failed != nil {
		logger.Warn("bootstrap partially failed:%v\n", errs)
	}
	return found, nil
}
