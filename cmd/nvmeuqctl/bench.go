package main

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/nvme-uq/nvmeuq"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

func newBenchCmd() *cobra.Command {
	var (
		sizeStr    string
		blockSize  uint32
		depth      int
		ops        int
		writeRatio float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive read/write traffic against a simulated controller and report latency",
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
			defer nvmeuq.Detach(deviceID)

			handle, err := nvmeuq.CreateIOUserQueue(deviceID, depth)
			if err != nil {
				return fmt.Errorf("create queue: %w", err)
			}
			defer nvmeuq.RemoveIOUserQueue(handle)

			metrics, err := nvmeuq.QueueMetrics(handle)
			if err != nil {
				return fmt.Errorf("queue metrics: %w", err)
			}

			shift := uint8(0)
			for bs := blockSize; bs > 1; bs >>= 1 {
				shift++
			}
			ns := &wire.Namespace{NSID: 1, BlockShift: shift, BlockSize: blockSize, BlockCount: uint64(nsBytes) / uint64(blockSize)}
			if err := nvmeuq.AddNamespace(handle, ns); err != nil {
				return fmt.Errorf("add namespace: %w", err)
			}

			buf := make([]byte, blockSize)
			payload := uintptr(unsafe.Pointer(&buf[0]))

			inFlight := 0
			nextAddr := uint64(0)
			maxAddr := uint64(nsBytes) - uint64(blockSize)

			start := time.Now()
			for i := 0; i < ops; i++ {
				for {
					n, _ := nvmeuq.Poll(handle, depth)
					inFlight -= n
					if inFlight < depth-1 {
						break
					}
					time.Sleep(time.Microsecond)
				}

				noop := nvmeuq.Callback(func(*wire.CompletionEntry, any) {})

				isWrite := float64(i%100)/100.0 < writeRatio
				var (
					result    nvmeuq.Result
					submitErr error
				)
				if isWrite {
					result, submitErr = nvmeuq.Write(handle, 1, payload, nextAddr, uint32(blockSize), noop, nil)
				} else {
					result, submitErr = nvmeuq.Read(handle, 1, payload, nextAddr, uint32(blockSize), noop, nil)
				}
				if submitErr != nil {
					return fmt.Errorf("submit op %d: %w", i, submitErr)
				}
				if result == nvmeuq.ResultBackpressure {
					i--
					continue
				}
				inFlight++

				nextAddr += uint64(blockSize)
				if nextAddr > maxAddr {
					nextAddr = 0
				}
			}

			deadline := time.Now().Add(5 * time.Second)
			for inFlight > 0 && time.Now().Before(deadline) {
				n, _ := nvmeuq.Poll(handle, depth)
				inFlight -= n
				if n == 0 {
					time.Sleep(time.Microsecond)
				}
			}
			elapsed := time.Since(start)

			snap := metrics.Snapshot()
			fmt.Printf("ops=%d elapsed=%s\n", ops, elapsed)
			fmt.Printf("read:  ops=%d bytes=%s errors=%d\n", snap.ReadOps, formatSize(int64(snap.ReadBytes)), snap.ReadErrors)
			fmt.Printf("write: ops=%d bytes=%s errors=%d\n", snap.WriteOps, formatSize(int64(snap.WriteBytes)), snap.WriteErrors)
			fmt.Printf("backpressure events: %d\n", snap.BackpressureEvents)
			fmt.Printf("latency: p50=%s p99=%s p99.9=%s\n", time.Duration(snap.LatencyP50Ns), time.Duration(snap.LatencyP99Ns), time.Duration(snap.LatencyP999Ns))
			return nil
		},
	}

	cmd.Flags().StringVar(&sizeStr, "size", "64M", "namespace size (e.g. 64M, 1G)")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "logical block size in bytes")
	cmd.Flags().IntVar(&depth, "depth", 32, "queue depth / max in-flight commands")
	cmd.Flags().IntVar(&ops, "ops", 10000, "number of operations to submit")
	cmd.Flags().Float64Var(&writeRatio, "write-ratio", 0.3, "fraction of ops that are writes, 0..1")
	return cmd
}
