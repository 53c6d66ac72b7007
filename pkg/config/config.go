package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1

	// DefaultCompactionThreshold is the heap size that triggers a compaction
	DefaultCompactionThreshold = 64 * 1024 // 64KB

	// DefaultBloomBitsPerKey sizes the in-memory filter kept for each sorted table
	DefaultBloomBitsPerKey = 10
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

type SyncMode int

const (
	// SyncNone flushes the heap write buffer on every append but never fsyncs
	SyncNone SyncMode = iota
	// SyncImmediate fsyncs the heap after every append
	SyncImmediate
)

type Config struct {
	Version int    `json:"version"`
	StoreID string `json:"store_id"`

	// Heap log configuration
	HeapSyncMode SyncMode `json:"heap_sync_mode"`

	// Compaction configuration
	CompactionThreshold    int64 `json:"compaction_threshold"`
	DropObsoleteTombstones bool  `json:"drop_obsolete_tombstones"`

	// Sorted table configuration
	BloomBitsPerKey int `json:"bloom_bits_per_key"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentManifestVersion,
		StoreID: uuid.NewString(),

		HeapSyncMode: SyncNone,

		CompactionThreshold:    DefaultCompactionThreshold,
		DropObsoleteTombstones: false,

		BloomBitsPerKey: DefaultBloomBitsPerKey,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if _, err := uuid.Parse(c.StoreID); err != nil {
		return fmt.Errorf("%w: invalid store id %q", ErrInvalidConfig, c.StoreID)
	}

	if c.CompactionThreshold <= 0 {
		return fmt.Errorf("%w: compaction threshold must be positive", ErrInvalidConfig)
	}

	if c.HeapSyncMode != SyncNone && c.HeapSyncMode != SyncImmediate {
		return fmt.Errorf("%w: unknown heap sync mode %d", ErrInvalidConfig, c.HeapSyncMode)
	}

	if c.BloomBitsPerKey < 0 {
		return fmt.Errorf("%w: bloom bits per key must not be negative", ErrInvalidConfig)
	}

	return nil
}

// LoadConfigFromManifest loads the configuration stored in the data directory
func LoadConfigFromManifest(dbPath string) (*Config, error) {
	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrCreate returns the manifest configuration for dbPath, writing a default
// one if the directory has none yet
func LoadOrCreate(dbPath string) (*Config, error) {
	cfg, err := LoadConfigFromManifest(dbPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrManifestNotFound) {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg = NewDefaultConfig()
	if err := cfg.SaveManifest(dbPath); err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}
	return cfg, nil
}

// SaveManifest saves the configuration to the manifest file
func (c *Config) SaveManifest(dbPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Snapshot returns a copy of the configuration that is safe to read without locking
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Version:                c.Version,
		StoreID:                c.StoreID,
		HeapSyncMode:           c.HeapSyncMode,
		CompactionThreshold:    c.CompactionThreshold,
		DropObsoleteTombstones: c.DropObsoleteTombstones,
		BloomBitsPerKey:        c.BloomBitsPerKey,
	}
}
