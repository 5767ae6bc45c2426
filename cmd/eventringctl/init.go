package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/monad-crypto/eventring/ring"
)

var initFlags struct {
	path               string
	contentType        uint16
	descriptorCapacity uint64
	payloadBufSize     datasize.ByteSize
	contextAreaSize    datasize.ByteSize
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and initialize a fresh ring image file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		path := initFlags.path
		if path == "" {
			path = cfg.Ring.Path
		}

		size := cfg.Ring.Size()
		if initFlags.descriptorCapacity != 0 {
			size.DescriptorCapacity = initFlags.descriptorCapacity
		}
		if initFlags.payloadBufSize != 0 {
			size.PayloadBufSize = uint64(initFlags.payloadBufSize)
		}
		if initFlags.contextAreaSize != 0 {
			pages := (uint64(initFlags.contextAreaSize) + ring.LargePageSize - 1) / ring.LargePageSize
			size.ContextAreaSize = pages * ring.LargePageSize
		}
		contentType := cfg.Ring.ContentType
		if initFlags.contentType != 0 {
			contentType = initFlags.contentType
		}

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		if err := f.Truncate(int64(size.CalcStorage())); err != nil {
			return fmt.Errorf("truncate %s to %d bytes: %w", path, size.CalcStorage(), err)
		}

		var schemaHash [32]byte
		if err := ring.InitFile(size, contentType, schemaHash, f, 0); err != nil {
			return fmt.Errorf("init ring image: %w", err)
		}

		log.Infow("initialized ring image",
			"path", path,
			"descriptor_capacity", size.DescriptorCapacity,
			"payload_buf_size", datasize.ByteSize(size.PayloadBufSize),
			"context_area_size", datasize.ByteSize(size.ContextAreaSize),
			"total_size", datasize.ByteSize(size.CalcStorage()),
		)
		return nil
	},
}

func init() {
	flags := initCmd.Flags()
	flags.StringVar(&initFlags.path, "path", "", "ring image file path (defaults to the config's ring.path)")
	flags.Uint16Var(&initFlags.contentType, "content-type", 0, "content type tag to stamp in the header (defaults to the config value)")
	flags.Uint64Var(&initFlags.descriptorCapacity, "descriptor-capacity", 0, "number of descriptor slots, a power of two (defaults to the config value)")
	flags.Var(byteSizeFlag{&initFlags.payloadBufSize}, "payload-buf-size", "payload buffer size, e.g. 128MB (defaults to the config value)")
	flags.Var(byteSizeFlag{&initFlags.contextAreaSize}, "context-area-size", "opaque context area size, e.g. 2MB, rounded up to whole large pages")
}
