package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvme-uq/nvmeuq"
)

func newDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage simulated NVMe controllers",
	}
	cmd.AddCommand(newDevicesListCmd(), newDevicesAttachCmd())
	return cmd
}

func newDevicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List currently attached controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := nvmeuq.GetAvailableDevices()
			if len(ids) == 0 {
				fmt.Println("no controllers attached; run 'devices attach' first")
				return nil
			}
			for _, id := range ids {
				fmt.Printf("controller %d\n", id)
			}
			return nil
		},
	}
}

func newDevicesAttachCmd() *cobra.Command {
	var (
		count     int
		sizeStr   string
		blockSize uint32
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Stand up and attach one or more simulated controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			nsBytes, err := parseSize(sizeStr)
			if err != nil {
				return err
			}

			ids, err := spinUpSimControllers(count, nsBytes, blockSize)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Printf("attached controller %d (namespace 1, %s, block size %d)\n", id, formatSize(nsBytes), blockSize)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "number of simulated controllers to attach")
	cmd.Flags().StringVar(&sizeStr, "size", "64M", "namespace size per controller (e.g. 64M, 1G)")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "logical block size in bytes")
	return cmd
}
