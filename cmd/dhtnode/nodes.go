package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/db"
	"github.com/996BC/996.DHT/utils"
)

func nodesCmd() *cobra.Command {
	var dbpath, infoHash, o string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "View the persisted nodes, or the peers announced for an info hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dbpath) == 0 {
				return fmt.Errorf("empty db path")
			}
			if err := utils.AccessCheck(dbpath); err != nil {
				return err
			}

			var output io.Writer = os.Stdout
			if len(o) != 0 {
				f, err := os.OpenFile(o, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
				if err != nil {
					return fmt.Errorf("open file %s failed:%v", o, err)
				}
				defer f.Close()
				output = f
			}

			store, err := db.Open(dbpath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(infoHash) != 0 {
				return peersView(store, infoHash, output)
			}
			return nodesView(store, output)
		},
	}
	cmd.Flags().StringVar(&dbpath, "dbpath", "", "path of database")
	cmd.Flags().StringVar(&infoHash, "info-hash", "", "view the peers of the info hash in hex format")
	cmd.Flags().StringVarP(&o, "output", "o", "", "result output file; if it's null it will print to stdout")
	return cmd
}

func nodesView(store db.DB, w io.Writer) error {
	nodes, err := store.LoadNodes()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		fmt.Fprintf(w, "%s %v\n", utils.ToHex(n.ID[:]), n.Addr)
	}
	fmt.Fprintf(w, "%d nodes\n", len(nodes))
	return nil
}

func peersView(store db.DB, hexHash string, w io.Writer) error {
	infoHash, err := crypto.ParseNodeID(hexHash)
	if err != nil {
		return err
	}
	peers, err := store.GetPeers(infoHash, 0)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Fprintf(w, "%v\n", p)
	}
	fmt.Fprintf(w, "%d peers\n", len(peers))
	return nil
}
