package engine

import (
	"github.com/KevoDB/heapkv/pkg/common/log"
	"github.com/KevoDB/heapkv/pkg/config"
	"github.com/KevoDB/heapkv/pkg/telemetry"
)

// Option customizes a store at Open time. Options that change the configuration
// are persisted to the MANIFEST.
type Option func(*options)

type options struct {
	logger    log.Logger
	telemetry telemetry.Telemetry
	overrides []func(*config.Config)
}

func (o *options) override(fn func(*config.Config)) {
	o.overrides = append(o.overrides, fn)
}

// WithLogger sets the logger used by the store and its components
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry sets the telemetry sink. The default records nothing.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = tel
	}
}

// WithCompactionThreshold sets the heap size in bytes above which a write
// triggers a background compaction
func WithCompactionThreshold(bytes int64) Option {
	return func(o *options) {
		o.override(func(c *config.Config) {
			c.CompactionThreshold = bytes
		})
	}
}

// WithSyncMode sets whether heap appends are fsynced
func WithSyncMode(mode config.SyncMode) Option {
	return func(o *options) {
		o.override(func(c *config.Config) {
			c.HeapSyncMode = mode
		})
	}
}

// WithDropObsoleteTombstones enables discarding tombstones during compaction
// when no older table holds the key
func WithDropObsoleteTombstones(enabled bool) Option {
	return func(o *options) {
		o.override(func(c *config.Config) {
			c.DropObsoleteTombstones = enabled
		})
	}
}

// WithBloomBitsPerKey sizes the per-table bloom filters. Zero disables them.
func WithBloomBitsPerKey(bits int) Option {
	return func(o *options) {
		o.override(func(c *config.Config) {
			c.BloomBitsPerKey = bits
		})
	}
}
