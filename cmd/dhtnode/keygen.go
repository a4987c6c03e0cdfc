package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/utils"
)

func keygenCmd() *cobra.Command {
	var m int
	var s, o string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate or convert the node key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(m, s, o)
		},
	}
	cmd.Flags().IntVarP(&m, "mode", "m", 0,
		`working mode:
1: Generate a sKey
2: Generate a pKey
3: Generate a pKey from a sKey
4: Generate a sKey from a pKey
5: Generate a new sKey from a sKey
all require ouput path, 3,4,5 require source input path`)
	cmd.Flags().StringVarP(&s, "source", "s", "", "source input path")
	cmd.Flags().StringVarP(&o, "output", "o", "", "output path")
	return cmd
}

func keygen(m int, s, o string) error {
	if m <= 0 || m > 5 {
		return fmt.Errorf("invalid mode:%d", m)
	}

	if len(o) == 0 {
		return fmt.Errorf("output path should not be empty")
	}
	if err := utils.AccessCheck(o); err != nil {
		return err
	}

	if m >= 3 && m <= 5 {
		if len(s) == 0 {
			return fmt.Errorf("source input path should not be empty")
		}
		if err := utils.AccessCheck(s); err != nil {
			return err
		}
	}

	var err error
	switch m {
	case 1:
		_, err = crypto.NewSKey(o)
	case 2:
		_, err = crypto.NewPKey(o)
	case 3:
		err = crypto.OpenSKey(s, o)
	case 4:
		err = crypto.SealPKey(s, o)
	case 5:
		err = crypto.ReNewSKey(s, o)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Finish, checkout .*Key file in the %s\n", o)
	return nil
}
