package knxip

import (
	"time"

	"github.com/vapourismo/knx-go/knx"
	"github.com/vapourismo/knx-go/knx/cemi"
	"github.com/vapourismo/knx-go/knx/knxnet"
)

// Logger is the logging interface used by the transport.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
}

// Tunnel is the part of a knx.Tunnel the transport uses.
type Tunnel interface {
	Send(msg cemi.Message) error
	Inbound() <-chan cemi.Message
	Close()
}

// Dialer opens a tunnel to the KNXnet/IP gateway at addr.
type Dialer func(addr string) (Tunnel, error)

// DialTunnel opens a data link layer tunnel with knx-go.
func DialTunnel(config knx.TunnelConfig) Dialer {
	return func(addr string) (Tunnel, error) {
		tunnel, err := knx.NewTunnel(addr, knxnet.TunnelLayerData, config)
		if err != nil {
			return nil, err
		}
		return tunnel, nil
	}
}

// Config holds the transport configuration.
type Config struct {
	// Dialer opens the tunnel; defaults to knx-go with knx.DefaultTunnelConfig
	Dialer Dialer

	// ProgModeWindow is how long responses to a programming mode scan are
	// collected
	ProgModeWindow time.Duration

	// AckTimeout bounds the wait for a T_Ack when no response is expected
	AckTimeout time.Duration

	// HopCount of outgoing telegrams
	HopCount uint8

	// Logger is used for debug output (optional)
	Logger Logger
}

func defaultConfig() Config {
	return Config{
		Dialer:         DialTunnel(knx.DefaultTunnelConfig),
		ProgModeWindow: 2 * time.Second,
		AckTimeout:     3 * time.Second,
		HopCount:       6,
	}
}

// Option is a functional option for configuring the transport.
type Option func(*Config)

// WithDialer replaces the function used to open the tunnel.
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		if d != nil {
			c.Dialer = d
		}
	}
}

// WithTunnelConfig sets the knx-go tunnel configuration.
func WithTunnelConfig(config knx.TunnelConfig) Option {
	return func(c *Config) {
		c.Dialer = DialTunnel(config)
	}
}

// WithProgModeWindow sets how long a programming mode scan listens.
func WithProgModeWindow(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ProgModeWindow = d
		}
	}
}

// WithAckTimeout sets the wait for transport layer acknowledgements.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AckTimeout = d
		}
	}
}

// WithLogger sets a logger for telegram level debugging.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
