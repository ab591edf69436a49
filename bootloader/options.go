package bootloader

import (
	"time"

	"github.com/moffa90/go-busupdater/cache"
	"github.com/moffa90/go-busupdater/diff"
	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

// Telegram delay limits.
const (
	MinTelegramDelay     = 0
	MaxTelegramDelay     = 500 * time.Millisecond
	DefaultTelegramDelay = 100 * time.Millisecond
)

// Config holds the session configuration.
type Config struct {
	// ProgressCallback is called during flashing to report progress (optional)
	ProgressCallback ProgressCallback

	// StateCallback is called on every state transition (optional)
	StateCallback StateCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Priority of the telegrams sent to the device
	Priority transport.Priority

	// ResponseTimeout bounds the wait for a single response
	ResponseTimeout time.Duration

	// EraseTimeout is the minimum response timeout for erase commands
	EraseTimeout time.Duration

	// MaxCommandRetry is the retry budget for control commands
	MaxCommandRetry int

	// DataRetry is the retry budget for data telegrams; negative is unlimited
	DataRetry int

	// TelegramDelay is the pause after each data telegram (0-500ms)
	TelegramDelay time.Duration

	// ReconnectDelay is the pause between closing and reopening the transport
	ReconnectDelay time.Duration

	// BootloaderUpdaterWait is the pause after restarting into a bootloader
	// updater image, so it can finish before the device is used again
	BootloaderUpdaterWait time.Duration

	// ReconnectSequenceThreshold reconnects before a send once the transport
	// sequence number reaches it. Zero disables it.
	ReconnectSequenceThreshold uint32

	// MinBootloaderVersion is the oldest bootloader accepted
	MinBootloaderVersion protocol.Version

	// ToolVersion is reported to the bootloader in the identity request
	ToolVersion protocol.Version

	// MaxBlockResends bounds how often a block is resent after a byte count error
	MaxBlockResends int

	// BlockSize overrides the block size of the negotiated protocol; zero keeps it
	BlockSize int

	// NormalModeDevice is restarted into the bootloader on Open (optional)
	NormalModeDevice *transport.Address

	// UID unlocks the device without requesting it first (optional)
	UID []byte

	// EraseFlash erases the complete application flash before flashing
	EraseFlash bool

	// FullFlash disables differential mode
	FullFlash bool

	// NoFlash skips flashing and writes only the boot descriptor (debugging)
	NoFlash bool

	// AppVersionOffset overrides the application version pointer found in the image
	AppVersionOffset uint32

	// DumpFlash dumps [DumpStart, DumpEnd] to the bootloader's serial port during Update
	DumpFlash          bool
	DumpStart, DumpEnd uint32

	// LogStatistics requests the bootloader statistic after every block
	LogStatistics bool

	// Cache holds the images previously flashed; nil disables differential mode
	Cache *cache.Cache

	// Strategy computes page diffs in differential mode
	Strategy diff.Strategy
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Priority:              transport.PriorityLow,
		ResponseTimeout:       3 * time.Second,
		EraseTimeout:          2 * protocol.MaxFlashEraseTimeout,
		MaxCommandRetry:       3,
		DataRetry:             -1,
		TelegramDelay:         DefaultTelegramDelay,
		ReconnectDelay:        time.Second,
		BootloaderUpdaterWait: protocol.BootloaderUpdaterRestartTime,
		MinBootloaderVersion:  protocol.Version{Major: 1, Minor: 0},
		ToolVersion:           protocol.ToolVersion,
		MaxBlockResends:       16,
		Strategy:              diff.Encoder{},
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithProgressCallback sets a callback function to track flashing progress.
//
// Example:
//
//	s := bootloader.New(gw, addr,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithStateCallback sets a callback for session state transitions.
func WithStateCallback(callback StateCallback) Option {
	return func(c *Config) {
		c.StateCallback = callback
	}
}

// WithLogger sets a logger for the session operations.
//
// Example:
//
//	s := bootloader.New(gw, addr, bootloader.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithPriority sets the telegram priority.
func WithPriority(p transport.Priority) Option {
	return func(c *Config) {
		c.Priority = p
	}
}

// WithResponseTimeout sets the timeout for a single response.
//
// Example:
//
//	s := bootloader.New(gw, addr, bootloader.WithResponseTimeout(5*time.Second))
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ResponseTimeout = timeout
		}
	}
}

// WithEraseTimeout sets the minimum response timeout for erase commands.
func WithEraseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.EraseTimeout = timeout
		}
	}
}

// WithMaxCommandRetry sets the number of retries for control commands.
func WithMaxCommandRetry(retries int) Option {
	return func(c *Config) {
		c.MaxCommandRetry = retries
	}
}

// WithDataRetry sets the number of retries for data telegrams. A negative
// value retries forever.
func WithDataRetry(retries int) Option {
	return func(c *Config) {
		c.DataRetry = retries
	}
}

// WithTelegramDelay sets the pause after each data telegram. The value is
// clamped to 0-500ms.
//
// Example:
//
//	s := bootloader.New(gw, addr, bootloader.WithTelegramDelay(50*time.Millisecond))
func WithTelegramDelay(delay time.Duration) Option {
	return func(c *Config) {
		switch {
		case delay < MinTelegramDelay:
			delay = MinTelegramDelay
		case delay > MaxTelegramDelay:
			delay = MaxTelegramDelay
		}
		c.TelegramDelay = delay
	}
}

// WithReconnectDelay sets the pause between closing and reopening the transport.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ReconnectDelay = delay
		}
	}
}

// WithReconnectSequenceThreshold reconnects proactively once the transport's
// sequence number reaches n. Zero disables it.
func WithReconnectSequenceThreshold(n uint32) Option {
	return func(c *Config) {
		c.ReconnectSequenceThreshold = n
	}
}

// WithMinBootloaderVersion sets the oldest bootloader version accepted.
func WithMinBootloaderVersion(v protocol.Version) Option {
	return func(c *Config) {
		c.MinBootloaderVersion = v
	}
}

// WithToolVersion sets the version reported to the bootloader.
func WithToolVersion(v protocol.Version) Option {
	return func(c *Config) {
		c.ToolVersion = v
	}
}

// WithMaxBlockResends bounds how often a block is resent after the device
// reports a byte count mismatch.
func WithMaxBlockResends(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxBlockResends = n
		}
	}
}

// WithBootloaderUpdaterWait sets the pause after a bootloader updater image
// was started. Zero disables it.
func WithBootloaderUpdaterWait(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.BootloaderUpdaterWait = d
		}
	}
}

// WithBlockSize overrides the block size of the negotiated protocol. Only
// 256, 512 and 1024 fit the bootloader's ram buffer; other sizes are ignored.
//
// Example:
//
//	s := bootloader.New(gw, addr, bootloader.WithBlockSize(256))
func WithBlockSize(size int) Option {
	return func(c *Config) {
		switch size {
		case protocol.FlashPageSize, 2 * protocol.FlashPageSize, protocol.BlockSize:
			c.BlockSize = size
		}
	}
}

// WithNormalModeDevice restarts the device running its application at addr
// into the bootloader when the session is opened.
func WithNormalModeDevice(addr transport.Address) Option {
	return func(c *Config) {
		c.NormalModeDevice = &addr
	}
}

// WithUID unlocks the device with uid instead of requesting it.
func WithUID(uid []byte) Option {
	return func(c *Config) {
		c.UID = append([]byte(nil), uid...)
	}
}

// WithEraseFlash erases the complete application flash before flashing.
// This forces full mode.
func WithEraseFlash(erase bool) Option {
	return func(c *Config) {
		c.EraseFlash = erase
	}
}

// WithFullFlash disables differential mode.
func WithFullFlash(full bool) Option {
	return func(c *Config) {
		c.FullFlash = full
	}
}

// WithNoFlash skips flashing and writes only the boot descriptor.
// For debugging only.
func WithNoFlash(noFlash bool) Option {
	return func(c *Config) {
		c.NoFlash = noFlash
	}
}

// WithAppVersionAddress sets the image offset of the application version
// string instead of searching the image for it.
func WithAppVersionAddress(offset uint32) Option {
	return func(c *Config) {
		c.AppVersionOffset = offset
	}
}

// WithDumpFlash makes Update dump the flash range [start, end] to the
// bootloader's serial port after unlocking.
func WithDumpFlash(start, end uint32) Option {
	return func(c *Config) {
		c.DumpFlash = true
		c.DumpStart = start
		c.DumpEnd = end
	}
}

// WithLogStatistics requests and logs the bootloader statistic after every block.
func WithLogStatistics(enable bool) Option {
	return func(c *Config) {
		c.LogStatistics = enable
	}
}

// WithCache sets the image cache used for differential mode. Every flashed
// image is stored in it.
func WithCache(c *cache.Cache) Option {
	return func(cfg *Config) {
		cfg.Cache = c
	}
}

// WithDiffStrategy replaces the differential encoder.
func WithDiffStrategy(s diff.Strategy) Option {
	return func(c *Config) {
		if s != nil {
			c.Strategy = s
		}
	}
}
