package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nvme-uq/nvmeuq"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Create an I/O user queue on a simulated controller",
	}
	cmd.AddCommand(newQueueCreateCmd())
	return cmd
}

func newQueueCreateCmd() *cobra.Command {
	var (
		sizeStr   string
		blockSize uint32
		depth     int
		keep      bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Attach a simulated controller and create one I/O user queue on it",
		RunE: func(cmd *cobra.Command, args []string) error {
			nsBytes, err := parseSize(sizeStr)
			if err != nil {
				return err
			}

			ids, err := spinUpSimControllers(1, nsBytes, blockSize)
			if err != nil {
				return err
			}
			deviceID := ids[0]

			handle, err := nvmeuq.CreateIOUserQueue(deviceID, depth)
			if err != nil {
				return fmt.Errorf("create queue: %w", err)
			}
			fmt.Printf("controller %d: created queue handle %d (depth %d, namespace 1, %s)\n", deviceID, handle, depth, formatSize(nsBytes))

			if !keep {
				if err := nvmeuq.RemoveIOUserQueue(handle); err != nil {
					return fmt.Errorf("remove queue: %w", err)
				}
				if err := nvmeuq.Detach(deviceID); err != nil {
					return fmt.Errorf("detach controller: %w", err)
				}
				fmt.Println("queue removed, controller detached")
				return nil
			}

			fmt.Println("press Ctrl+C to tear down")
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			_ = nvmeuq.RemoveIOUserQueue(handle)
			_ = nvmeuq.Detach(deviceID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sizeStr, "size", "64M", "namespace size (e.g. 64M, 1G)")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "logical block size in bytes")
	cmd.Flags().IntVar(&depth, "depth", nvmeuq.DefaultIOQueueSize, "queue depth")
	cmd.Flags().BoolVar(&keep, "keep", false, "leave the controller and queue attached until interrupted")
	return cmd
}
