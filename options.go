package mwbridge

import (
	"context"
	"time"
)

// Default transport endpoints (§6).
const (
	DefaultSNIURI            = "http://127.0.0.1:8190"
	DefaultUSB2SNESURI       = "ws://127.0.0.1:23074"
	DefaultUSB2SNESLegacyURI = "ws://localhost:8080"
)

// Default SRAM base addresses (§3).
const (
	DefaultItemsBase uint32 = 0xE04000
	DefaultSeedData  uint32 = 0xE046A0
)

const (
	// DefaultFastPoll is the polling interval used during activity.
	DefaultFastPoll = 10 * time.Millisecond
	// DefaultDataPoll is the steady-state polling interval for idle connections.
	DefaultDataPoll = 500 * time.Millisecond
	// DefaultReconnectPoll is the steady interval of the supervisor's poller.
	// The supervisor does not sleep between reconnect attempts; each Update
	// makes one attempt.
	DefaultReconnectPoll = 1 * time.Second
	// DefaultConnectTimeout bounds how long a single Connect() call may take.
	DefaultConnectTimeout = 10 * time.Second
)

// Option is a functional option for New (the Facade constructor).
type Option func(*Config)

// Config holds runtime settings for a Client. defaultConfig() supplies sane
// defaults (a zero Config has no metrics or logger and is not usable as is);
// users modify it through functional options.
type Config struct {
	ctx context.Context

	sniURI            string
	usb2snesURI       string
	usb2snesLegacyURI string

	itemsBase uint32
	seedData  uint32

	fastPoll      time.Duration
	dataPoll      time.Duration
	reconnectPoll time.Duration

	connectTimeout time.Duration

	metrics Metrics
	logger  Logger

	cloudRelay     *cloudRelayOptions
	patchBlobCache *patchBlobCacheOptions
}

type cloudRelayOptions struct {
	account, key, prefix string
}

type patchBlobCacheOptions struct {
	account, key, container string
}

// Validate checks that the configuration is sane.
func (c *Config) Validate() error {
	if c.usb2snesURI == c.usb2snesLegacyURI {
		return ErrInvalidConfig
	}
	if c.itemsBase == c.seedData {
		return ErrInvalidConfig
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		ctx:               context.Background(),
		sniURI:            DefaultSNIURI,
		usb2snesURI:       DefaultUSB2SNESURI,
		usb2snesLegacyURI: DefaultUSB2SNESLegacyURI,
		itemsBase:         DefaultItemsBase,
		seedData:          DefaultSeedData,
		fastPoll:          DefaultFastPoll,
		dataPoll:          DefaultDataPoll,
		reconnectPoll:     DefaultReconnectPoll,
		connectTimeout:    DefaultConnectTimeout,
		metrics:           NewDefaultMetrics(),
		logger:            NewDefaultLogger(),
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// ErrInvalidConfig is returned when the provided options result in an
// invalid configuration.
var ErrInvalidConfig = NewProtocolError("invalid configuration")

// WithContext stores ctx in the Config. No operation reads it: every Client
// and transport call uses the ctx passed to that call.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// WithSNIEndpoint overrides the default SNI transport URI.
func WithSNIEndpoint(uri string) Option {
	return func(c *Config) {
		if uri != "" {
			c.sniURI = uri
		}
	}
}

// WithUSB2SNESEndpoints overrides the primary and legacy USB2SNES URIs.
func WithUSB2SNESEndpoints(primary, legacy string) Option {
	return func(c *Config) {
		if primary != "" {
			c.usb2snesURI = primary
		}
		if legacy != "" {
			c.usb2snesLegacyURI = legacy
		}
	}
}

// WithSRAMBases overrides the items_base/seed_data addresses used by the
// reconciliation engine.
func WithSRAMBases(itemsBase, seedData uint32) Option {
	return func(c *Config) {
		if itemsBase != 0 {
			c.itemsBase = itemsBase
		}
		if seedData != 0 {
			c.seedData = seedData
		}
	}
}

// WithFastPoll sets the polling interval used when data is actively flowing.
func WithFastPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.fastPoll = d
		}
	}
}

// WithDataPoll sets how often the engine's verify loops re-poll while idle.
func WithDataPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.dataPoll = d
		}
	}
}

// WithReconnectPoll sets the steady interval of the supervisor's poller.
// The supervisor does not sleep between reconnect attempts.
func WithReconnectPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.reconnectPoll = d
		}
	}
}

// WithConnectTimeout bounds a single transport Connect() call.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithMetrics sets a custom Metrics implementation.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets a custom internal diagnostic Logger. This has no effect on
// the host-visible NotificationSink.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCloudRelay enables the headless Cloud Relay Transport (§4.H) backed by
// Azure Queue Storage under account, authenticated with key, using prefix to
// namespace the inbound/outbound queues. Never enabled implicitly.
func WithCloudRelay(account, key, prefix string) Option {
	return func(c *Config) {
		if account != "" && key != "" {
			if prefix == "" {
				prefix = "mwbridge"
			}
			c.cloudRelay = &cloudRelayOptions{account: account, key: key, prefix: prefix}
		}
	}
}

// WithPatchBlobCache enables mirroring GetPatch cache misses into an Azure
// Blob Storage container (§4.I). Never enabled implicitly.
func WithPatchBlobCache(account, key, container string) Option {
	return func(c *Config) {
		if account != "" && key != "" {
			if container == "" {
				container = "mwbridge-patches"
			}
			c.patchBlobCache = &patchBlobCacheOptions{account: account, key: key, container: container}
		}
	}
}
