// Package appconfig is the eventringctl configuration surface: a YAML
// document describing which ring image to operate on and how to map
// it, following the controlplane/yncp config package's
// DefaultConfig/LoadConfig/Validate triad with a validating
// UnmarshalYAML proxy cast.
package appconfig

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/monad-crypto/eventring/internal/logging"
	"github.com/monad-crypto/eventring/ring"
)

// Config is the top-level eventringctl configuration.
type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Ring describes the image eventringctl operates on by default.
	Ring RingConfig `yaml:"ring"`
}

// RingConfig describes a ring image on disk: where it lives, its
// declared content type, and the size parameters used when creating a
// fresh image with "init".
type RingConfig struct {
	// Path is the backing file's path.
	Path string `yaml:"path"`
	// Offset is the byte offset within Path the ring image starts at.
	// It is validated but not read by the eventringctl subcommands,
	// which always initialize and map the image at offset 0.
	Offset int64 `yaml:"offset"`
	// ContentType is the content type tag a fresh image is initialized
	// with; ignored when mapping an existing image.
	ContentType uint16 `yaml:"content_type"`
	// DescriptorCapacity is the number of descriptor slots for a fresh
	// image; must be a power of two within ring.MinDescriptorsShift and
	// ring.MaxDescriptorsShift.
	DescriptorCapacity uint64 `yaml:"descriptor_capacity"`
	// PayloadBufSize is the payload ring size for a fresh image,
	// expressed as a byte size so operators can write "128MiB" instead
	// of a shift exponent.
	PayloadBufSize datasize.ByteSize `yaml:"payload_buf_size"`
	// ContextAreaSize is the opaque context area size for a fresh
	// image, rounded up to a whole number of large pages.
	ContextAreaSize datasize.ByteSize `yaml:"context_area_size"`
}

// Size converts the configured byte sizes into a ring.Size, rounding
// ContextAreaSize up to a whole number of large pages.
func (r RingConfig) Size() ring.Size {
	pages := (uint64(r.ContextAreaSize) + ring.LargePageSize - 1) / ring.LargePageSize
	return ring.Size{
		DescriptorCapacity: r.DescriptorCapacity,
		PayloadBufSize:     uint64(r.PayloadBufSize),
		ContextAreaSize:    pages * ring.LargePageSize,
	}
}

// DefaultConfig returns the configuration used when no file is given:
// a 64K-slot, 128MiB ring with no context area, logged at info level.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{Level: zapcore.InfoLevel},
		Ring: RingConfig{
			Path:               "/dev/shm/eventring",
			ContentType:        uint16(ring.PacketCaptureContentType),
			DescriptorCapacity: 1 << 16,
			PayloadBufSize:     datasize.ByteSize(1) << 27,
			ContextAreaSize:    0,
		},
	}
}

// LoadConfig reads and validates a YAML configuration file, starting
// from DefaultConfig for any field the file omits.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation: it decodes into the
// unexported config alias (to avoid recursing back into this method)
// and then validates the result.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}
	return m.Validate()
}

// Validate checks that the configuration describes a ring the ring
// package can actually create or map.
func (m *Config) Validate() error {
	if m.Ring.Path == "" {
		return fmt.Errorf("ring.path is required")
	}
	if m.Ring.Offset < 0 {
		return fmt.Errorf("ring.offset must not be negative")
	}
	if m.Ring.DescriptorCapacity != 0 && m.Ring.DescriptorCapacity&(m.Ring.DescriptorCapacity-1) != 0 {
		return fmt.Errorf("ring.descriptor_capacity must be a power of two, got %d", m.Ring.DescriptorCapacity)
	}
	if m.Ring.PayloadBufSize != 0 && uint64(m.Ring.PayloadBufSize)&(uint64(m.Ring.PayloadBufSize)-1) != 0 {
		return fmt.Errorf("ring.payload_buf_size must be a power of two, got %s", m.Ring.PayloadBufSize)
	}
	return nil
}
