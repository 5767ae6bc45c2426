package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/monad-crypto/eventring/internal/xiter"
	"github.com/monad-crypto/eventring/ring"
)

var inspectFlags struct {
	path string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Map a ring image read-only and print its header and control-block state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path := inspectFlags.path
		if path == "" {
			path = cfg.Ring.Path
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		h, err := ring.Mmap(f, 0, ring.ProtRead, nil)
		if err != nil {
			return fmt.Errorf("map %s: %w", path, err)
		}
		defer h.Unmap()

		registry := ring.NewRegistry()
		ring.RegisterPacketCapture(registry)

		size := h.Size()
		fmt.Printf("path:                 %s\n", path)
		fmt.Printf("content type:         %s (%d)\n", registry.Name(ring.ContentType(h.ContentType())), h.ContentType())
		fmt.Printf("schema hash:          %x\n", h.SchemaHash())
		fmt.Printf("descriptor capacity:  %d\n", size.DescriptorCapacity)
		fmt.Printf("payload buf size:     %d\n", size.PayloadBufSize)
		fmt.Printf("context area size:    %d\n", size.ContextAreaSize)

		it := ring.NewIterator(h)
		it.Init()
		fmt.Printf("last seqno:           %d\n", it.Cursor())
		fmt.Printf("buffer window start:  %d\n", h.BufferWindowStart())

		fmt.Println("known content types:")
		for i, name := range xiter.Enumerate(registry.Names()) {
			fmt.Printf("  [%d] %s\n", i, name)
		}

		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFlags.path, "path", "", "ring image file path (defaults to the config's ring.path)")
}
