package db

import (
	"net"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/params"
	"github.com/996BC/996.DHT/serialize/krpc"
	"github.com/996BC/996.DHT/utils"
)

type badgerDB struct {
	*badger.DB
	peerTTL time.Duration
	lm      *utils.LoopMode
}

func newBadger() *badgerDB {
	return &badgerDB{
		peerTTL: params.AnnouncedPeerTTL,
		lm:      utils.NewLoop(),
	}
}

func (b *badgerDB) init(path string) error {
	var dbpath string
	var err error

	if dbpath, err = filepath.Abs(path); err != nil {
		return err
	}

	if err = utils.AccessCheck(dbpath); err != nil {
		return err
	}

	opts := badger.DefaultOptions(dbpath)
	opts = opts.WithLogger(nil)
	opts = opts.WithValueLogFileSize(64 << 20)
	opts = opts.WithMaxTableSize(8 << 20)

	b.DB, err = badger.Open(opts)
	if err != nil {
		return b.wrapError(err)
	}

	b.start()
	return nil
}

func (b *badgerDB) Close() error {
	b.stop()
	return b.DB.Close()
}

func (b *badgerDB) LoadNodes() ([]krpc.NodeInfo, error) {
	var result []krpc.NodeInfo

	rf := func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(nodePrefix); it.ValidForPrefix(nodePrefix); it.Next() {
			item := it.Item()

			id, err := crypto.NodeIDFromBytes(item.Key()[len(nodePrefix):])
			if err != nil {
				logger.Warn("skip bad node key %X\n", item.Key())
				continue
			}

			err = item.Value(func(v []byte) error {
				addr, err := krpc.ParseCompactEndpoint(v)
				if err != nil {
					return err
				}
				result = append(result, krpc.NodeInfo{ID: id, Addr: addr})
				return nil
			})
			if err != nil {
				logger.Warn("skip bad node %v:%v\n", id, err)
			}
		}
		return nil
	}

	return result, b.view(rf)
}

func (b *badgerDB) SaveNodes(nodes []krpc.NodeInfo) error {
	wf := func(txn *badger.Txn) error {
		if err := b.deletePrefixTX(nodePrefix, txn); err != nil {
			return err
		}
		for _, n := range nodes {
			if err := txn.Set(getNodeKey(n.ID), krpc.CompactEndpoint(n.Addr)); err != nil {
				return err
			}
		}
		return nil
	}

	return b.update(wf)
}

func (b *badgerDB) AddPeer(infoHash crypto.NodeID, peer *net.UDPAddr) error {
	key := getPeerKey(infoHash, krpc.CompactEndpoint(peer))

	wf := func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, placeHolder).WithTTL(b.peerTTL))
	}

	return b.update(wf)
}

func (b *badgerDB) GetPeers(infoHash crypto.NodeID, max int) ([]*net.UDPAddr, error) {
	var result []*net.UDPAddr
	prefix := getPeerKeyPrefix(infoHash)

	rf := func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if max > 0 && len(result) >= max {
				break
			}

			addr, err := krpc.ParseCompactEndpoint(it.Item().Key()[len(prefix):])
			if err != nil {
				continue
			}
			result = append(result, addr)
		}
		return nil
	}

	return result, b.view(rf)
}

func (b *badgerDB) deletePrefixTX(prefix []byte, txn *badger.Txn) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerDB) view(fn func(txn *badger.Txn) error) error {
	return b.wrapError(b.View(fn))
}

func (b *badgerDB) update(fn func(txn *badger.Txn) error) error {
	return b.wrapError(b.Update(fn))
}

// wrap the error directly get from badger
func (b *badgerDB) wrapError(err error) error {
	if err == nil {
		return nil
	}

	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}

	logger.Warn("badger got unexpect err:%v\n", err)
	return ErrInternal
}

func (b *badgerDB) start() {
	b.lm.Go(b.gcLoop)
	b.lm.StartWorking()
}

func (b *badgerDB) stop() {
	b.lm.Stop()
}

func (b *badgerDB) gcLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.lm.D:
			return
		case <-ticker.C:
			b.RunValueLogGC(0.5)
		}
	}
}
