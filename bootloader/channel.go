package bootloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

// ResponseResult is the outcome of a command sent with retry.
type ResponseResult struct {
	// Response is the device's answer to the last attempt
	Response protocol.Response

	// TimeoutCount is the number of attempts that timed out
	TimeoutCount int

	// DropCount is the number of attempts that lost the connection
	DropCount int

	// Written is the number of image bytes the operation transferred
	Written int
}

// Add accumulates the counters of other into r.
func (r *ResponseResult) Add(other *ResponseResult) {
	if other == nil {
		return
	}
	r.TimeoutCount += other.TimeoutCount
	r.DropCount += other.DropCount
	r.Written += other.Written
}

// Channel sends bootloader commands to one device, retrying and reconnecting
// the transport as needed.
//
// Channel is not safe for concurrent use.
type Channel struct {
	t       transport.Transport
	dst     transport.Destination
	config  Config
	version protocol.ProtocolVersion
	log     logger
}

// NewChannel returns a channel to the device at addr.
func NewChannel(t transport.Transport, addr transport.Address, opts ...Option) *Channel {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newChannel(t, addr, cfg)
}

func newChannel(t transport.Transport, addr transport.Address, cfg Config) *Channel {
	return &Channel{
		t:       t,
		dst:     transport.NewDestination(addr, cfg.Priority),
		config:  cfg,
		version: protocol.ProtocolV1,
		log:     logger{cfg.Logger},
	}
}

// Destination returns the device the channel talks to.
func (c *Channel) Destination() transport.Destination { return c.dst }

// ProtocolVersion returns the protocol version used for framing.
func (c *Channel) ProtocolVersion() protocol.ProtocolVersion { return c.version }

// SetProtocolVersion sets the protocol version negotiated with the bootloader.
func (c *Channel) SetProtocolVersion(v protocol.ProtocolVersion) { c.version = v }

// Send transmits one command and waits for the response, without retry.
func (c *Channel) Send(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Response, error) {
	return c.send(ctx, cmd, payload, c.config.ResponseTimeout)
}

func (c *Channel) send(ctx context.Context, cmd protocol.Command, payload []byte, timeout time.Duration) (protocol.Response, error) {
	frame := protocol.BuildFrame(cmd, payload)
	if limit := c.version.MaxASDULength(); len(frame) > limit {
		return protocol.Response{}, &FrameTooLargeError{Command: cmd, Size: len(frame), Max: limit}
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.t.Send(sendCtx, c.dst, frame)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return protocol.Response{}, transport.ErrTimeout
		}
		return protocol.Response{}, err
	}

	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %v", transport.ErrInvalidResponse, err)
	}
	return resp, nil
}

// SendWithRetry sends cmd until the device answers or the retry budget is
// spent. maxRetry < 0 retries forever, 0 sends once and k sends at most
// k+1 times.
//
// Timeouts are retried. Lost connections and invalid responses reconnect
// the transport before the next attempt. Other errors are returned at once.
func (c *Channel) SendWithRetry(ctx context.Context, cmd protocol.Command, payload []byte, maxRetry int) (*ResponseResult, error) {
	return c.sendWithRetry(ctx, cmd, payload, maxRetry, c.config.ResponseTimeout)
}

func (c *Channel) sendWithRetry(ctx context.Context, cmd protocol.Command, payload []byte, maxRetry int, timeout time.Duration) (*ResponseResult, error) {
	result := &ResponseResult{}
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, interrupted(err)
		}
		if err := c.reconnectBySequence(ctx); err != nil {
			return result, c.failed(ctx, cmd, attempts, err)
		}

		attempts++
		resp, err := c.send(ctx, cmd, payload, timeout)
		if err == nil {
			result.Response = resp
			return result, nil
		}
		if ctx.Err() != nil {
			return result, interrupted(ctx.Err())
		}

		reconnect := false
		switch {
		case errors.Is(err, transport.ErrTimeout):
			result.TimeoutCount++
		case errors.Is(err, transport.ErrDisconnected), errors.Is(err, transport.ErrLinkClosed):
			result.DropCount++
			reconnect = true
		case errors.Is(err, transport.ErrInvalidResponse):
			reconnect = true
		default:
			return result, &UpdaterError{Command: cmd, Attempts: attempts, Err: err}
		}

		c.log.warn("command failed", "command", cmd, "attempt", attempts, "error", err)

		if maxRetry >= 0 && attempts > maxRetry {
			return result, &UpdaterError{Command: cmd, Attempts: attempts, Err: err}
		}

		if reconnect {
			if rerr := c.Reconnect(ctx); rerr != nil {
				return result, c.failed(ctx, cmd, attempts, rerr)
			}
		} else if !c.t.IsOpen() {
			// nothing left to retry on
			return result, &UpdaterError{Command: cmd, Attempts: attempts, Err: err}
		}
	}
}

func (c *Channel) failed(ctx context.Context, cmd protocol.Command, attempts int, err error) error {
	if errors.Is(err, ErrInterrupted) {
		return err
	}
	if ctx.Err() != nil {
		return interrupted(ctx.Err())
	}
	return &UpdaterError{Command: cmd, Attempts: attempts, Err: err}
}

// Reconnect closes the transport, waits ReconnectDelay and opens it again.
func (c *Channel) Reconnect(ctx context.Context) error {
	c.log.info("reconnecting", "device", c.dst)
	if err := c.t.Close(); err != nil {
		c.log.debug("close before reconnect failed", "error", err)
	}
	if err := sleep(ctx, c.config.ReconnectDelay); err != nil {
		return err
	}
	if err := c.t.Open(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	c.dst = transport.NewDestination(c.dst.Address, c.dst.Priority)
	return nil
}

// reconnectBySequence reconnects before the transport's sequence number
// reaches the configured threshold.
func (c *Channel) reconnectBySequence(ctx context.Context) error {
	if c.config.ReconnectSequenceThreshold == 0 {
		return nil
	}
	sc, ok := c.t.(transport.SequenceCounter)
	if !ok {
		return nil
	}
	seq, known := sc.CurrentSequenceNumber()
	if !known || seq < c.config.ReconnectSequenceThreshold {
		return nil
	}
	c.log.debug("sequence threshold reached", "sequence", seq)
	return c.Reconnect(ctx)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return interrupted(err)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return interrupted(ctx.Err())
	case <-timer.C:
		return nil
	}
}
