package main

import (
	"fmt"

	"github.com/nvme-uq/nvmeuq"
	"github.com/nvme-uq/nvmeuq/internal/hostsvc/sim"
	"github.com/nvme-uq/nvmeuq/internal/simctrl"
)

// spinUpSimControllers attaches n freshly-built simulated controllers to
// the process-wide registry, each with one namespace of nsBytes capacity,
// and returns their registry ids. There is no PCIe bus to enumerate in
// this module (spec.md §6 names that as external), so the CLI stands up
// its own controllers rather than discovering real ones.
func spinUpSimControllers(n int, nsBytes int64, blockSize uint32) ([]int, error) {
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		svc := sim.New(nil)
		ctrl := simctrl.New(i+1, svc, log)

		blockCount := uint64(nsBytes) / uint64(blockSize)
		storage := simctrl.NewMemory(nsBytes)
		ctrl.AddNamespace(1, blockSize, blockCount, storage)

		id := nvmeuq.Attach(ctrl)
		ids = append(ids, id)
	}
	return ids, nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1fG", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1fM", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1fK", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	numPart := s
	switch suffix {
	case 'K', 'k':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	}
	var n int64
	if _, err := fmt.Sscanf(numPart, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
