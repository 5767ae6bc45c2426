package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/monad-crypto/eventring/internal/xcmd"
	"github.com/monad-crypto/eventring/ring"
)

var tailFlags struct {
	paths         []string
	contentFilter string
	fromStart     bool
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Poll one or more ring images and print new events as they arrive",
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

		paths := tailFlags.paths
		if len(paths) == 0 {
			paths = []string{cfg.Ring.Path}
		}

		registry := ring.NewRegistry()
		ring.RegisterPacketCapture(registry)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		wg, ctx := errgroup.WithContext(ctx)
		wg.Go(func() error {
			err := xcmd.WaitInterrupted(ctx)
			log.Infow("caught signal", "err", err)
			return err
		})

		for _, path := range paths {
			path := path
			wg.Go(func() error {
				return tailOne(ctx, path, registry, log.With("path", path))
			})
		}

		if err := wg.Wait(); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return interrupted
			}
			return err
		}
		return nil
	},
}

func init() {
	flags := tailCmd.Flags()
	flags.StringSliceVar(&tailFlags.paths, "path", nil, "ring image file path (repeatable; defaults to the config's ring.path)")
	flags.StringVar(&tailFlags.contentFilter, "content-type", "*", "glob pattern to filter which rings to print by content-type name")
	flags.BoolVar(&tailFlags.fromStart, "from-start", false, "replay from seqno 1 instead of starting at the current tail")
}

func tailOne(ctx context.Context, path string, registry *ring.Registry, log *zap.SugaredLogger) error {
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

	ct := ring.ContentType(h.ContentType())
	if !registry.Matches(ct, tailFlags.contentFilter) {
		log.Infow("content type doesn't match filter, skipping ring", "content_type", registry.Name(ct))
		return nil
	}

	it := ring.NewIterator(h)
	if tailFlags.fromStart {
		it.SetCursor(0)
	} else {
		it.Init()
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          1.5,
		MaxInterval:         500 * time.Millisecond,
	}
	b.Reset()

	var report ring.GapReport
	dst := make([]byte, 0, 64*1024)

	for {
		desc, gap, ok := it.Next()
		if !ok {
			select {
			case <-ctx.Done():
				log.Infow("stopping", "report", report.String())
				return ctx.Err()
			case <-time.After(b.NextBackOff()):
			}
			continue
		}
		b.Reset()

		report.Add(gap)

		printEvent(log, registry, ct, it, desc, &dst)
	}
}

func printEvent(log *zap.SugaredLogger, registry *ring.Registry, ct ring.ContentType, it *ring.Iterator, desc ring.Descriptor, dst *[]byte) {
	eventName := registry.EventName(ct, desc.EventType)

	if desc.EventType == ring.EventTypeRecordError {
		buf := make([]byte, desc.PayloadSize)
		if payload, ok := it.PayloadMemcpy(desc, buf); ok {
			if rep, err := ring.DecodeRecordErrorPayload(payload); err == nil {
				log.Warnw("RECORD_ERROR", "seqno", desc.Seqno, "kind", rep.Kind.String(),
					"discarded_event_type", rep.DiscardedEventType, "requested_size", rep.RequestedPayloadSize)
				return
			}
		}
		log.Warnw("RECORD_ERROR payload expired before it could be read", "seqno", desc.Seqno)
		return
	}

	if cap(*dst) < int(desc.PayloadSize) {
		*dst = make([]byte, desc.PayloadSize)
	}
	buf := (*dst)[:desc.PayloadSize]

	payload, ok := it.PayloadMemcpy(desc, buf)
	if !ok {
		log.Warnw("payload expired before it could be read", "seqno", desc.Seqno, "event", eventName)
		return
	}

	if ct == ring.PacketCaptureContentType && desc.EventType == ring.EventTypeCapturedFrame {
		ext := ring.UnpackPacketCaptureExt(desc.ContentExt)
		packet := ring.DecodeFrame(payload)
		log.Infow(eventName, "seqno", desc.Seqno, "rx_device_id", ext.RxDeviceID,
			"tx_device_id", ext.TxDeviceID, "pipeline_idx", ext.PipelineIdx, "is_drop", ext.IsDrop,
			"summary", packet.String())
		return
	}

	log.Infow(eventName, "seqno", desc.Seqno, "payload_size", desc.PayloadSize)
}
