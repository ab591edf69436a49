package gateway

import (
	"time"

	"go.bug.st/serial"
)

// Logger is the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
}

// Config holds the gateway configuration.
type Config struct {
	// BaudRate of the serial port
	BaudRate int

	// PollInterval bounds a single blocking read, so a cancelled context is
	// noticed quickly
	PollInterval time.Duration

	// Opener opens the serial port; defaults to go.bug.st/serial
	Opener Opener

	// Logger is used for debug output (optional)
	Logger Logger
}

func defaultConfig() Config {
	return Config{
		BaudRate:     115200,
		PollInterval: 50 * time.Millisecond,
		Opener:       openSerial,
	}
}

// Option is a functional option for configuring the gateway.
type Option func(*Config)

// WithBaudRate sets the serial baud rate.
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

// WithPollInterval sets the maximum duration of one blocking read.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithOpener replaces the function used to open the serial port.
func WithOpener(open Opener) Option {
	return func(c *Config) {
		if open != nil {
			c.Opener = open
		}
	}
}

// WithLogger sets a logger for frame level debugging.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
