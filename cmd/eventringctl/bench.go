package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/monad-crypto/eventring/internal/xcmd"
	"github.com/monad-crypto/eventring/ring"
)

var benchFlags struct {
	path        string
	rate        int
	duration    time.Duration
	payloadSize int
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Record synthetic events into a ring at a fixed rate, for local smoke-testing",
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

		path := benchFlags.path
		if path == "" {
			path = cfg.Ring.Path
		}

		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		h, err := ring.Mmap(f, 0, ring.ProtReadWrite, nil)
		if err != nil {
			return fmt.Errorf("map %s: %w", path, err)
		}
		defer h.Unmap()

		deadline, cancel := context.WithTimeout(cmd.Context(), benchFlags.duration)
		defer cancel()

		wg, ctx := errgroup.WithContext(deadline)
		wg.Go(func() error { return xcmd.WaitInterrupted(ctx) })
		wg.Go(func() error { return runBenchLoop(ctx, h, log) })

		if err := wg.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return nil
			}
			return err
		}
		return nil
	},
}

func runBenchLoop(ctx context.Context, h *ring.Handle, log *zap.SugaredLogger) error {
	rec := ring.NewRecorder(h)
	payload := make([]byte, benchFlags.payloadSize)

	ticker := time.NewTicker(time.Second / time.Duration(benchFlags.rate))
	defer ticker.Stop()

	var written uint64
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			rate := float64(0)
			if elapsed.Seconds() > 0 {
				rate = float64(written) / elapsed.Seconds()
			}
			log.Infow("bench done", "events", written, "elapsed", elapsed, "rate", rate)
			return ctx.Err()
		case <-ticker.C:
			rec.RecordBytes(ring.EventTypeCapturedFrame, payload, ring.PacketCaptureExt{RxDeviceID: uint32(written)}.Pack())
			written++
		}
	}
}

func init() {
	flags := benchCmd.Flags()
	flags.StringVar(&benchFlags.path, "path", "", "ring image file path (defaults to the config's ring.path)")
	flags.IntVar(&benchFlags.rate, "rate", 1000, "events recorded per second")
	flags.DurationVar(&benchFlags.duration, "duration", 10*time.Second, "how long to run")
	flags.IntVar(&benchFlags.payloadSize, "payload-size", 128, "synthetic payload size in bytes")
}
