package knxip

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vapourismo/knx-go/knx/cemi"

	"github.com/moffa90/go-busupdater/transport"
)

// Application layer services, as 10 bit APCI.
const (
	apciIndividualAddrRead     uint16 = 0x100
	apciIndividualAddrResponse uint16 = 0x140
	apciUserMsgWrite           uint16 = 0x2F8
	apciUserMsgResponse        uint16 = 0x2FE
	apciRestart                uint16 = 0x380
	apciRestartResponse        uint16 = 0x3A1

	restartMaster byte = 0x01
)

// Transport layer control telegrams.
const (
	tConnect    = 0
	tDisconnect = 1
	tAck        = 2
	tNak        = 3
)

// inboundBuffer bounds the messages queued between requests. Bus traffic
// beyond that is dropped.
const inboundBuffer = 64

// appData builds an APDU. The low 6 bits of apci travel in the first data byte.
func appData(apci uint16, numbered bool, seq uint8, data []byte) *cemi.AppData {
	payload := make([]byte, 1+len(data))
	payload[0] = byte(apci) & 0x3F
	copy(payload[1:], data)
	return &cemi.AppData{
		Numbered:  numbered,
		SeqNumber: seq,
		Command:   cemi.APCI(apci >> 6),
		Data:      payload,
	}
}

// apciOf returns the 10 bit APCI of app and its payload.
func apciOf(app *cemi.AppData) (uint16, []byte) {
	if len(app.Data) == 0 {
		return uint16(app.Command) << 6, nil
	}
	return uint16(app.Command)<<6 | uint16(app.Data[0]&0x3F), app.Data[1:]
}

// connection is the transport layer connection to one device.
type connection struct {
	dst  transport.Address
	send uint8 // sequence number of the next telegram we send
	recv uint8 // sequence number expected from the device
}

// Transport talks to devices through a KNXnet/IP tunnelling gateway.
//
// Requests are serialized; Close may be called from another goroutine to
// abort a pending request.
type Transport struct {
	addr   string
	config Config

	reqMu  sync.Mutex // one request at a time
	mu     sync.Mutex // guards tunnel, in, conn and seq
	tunnel Tunnel
	in     chan cemi.Message
	conn   *connection
	seq    uint32
}

var (
	_ transport.Transport       = (*Transport)(nil)
	_ transport.SequenceCounter = (*Transport)(nil)
)

// New returns a transport for the gateway at addr (host:port). The tunnel is
// not opened until Open is called.
func New(addr string, opts ...Option) *Transport {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{addr: addr, config: cfg}
}

// Open connects the tunnel. Opening an open transport is a no-op.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tunnel != nil {
		return nil
	}
	tunnel, err := t.config.Dialer(t.addr)
	if err != nil {
		return errors.Wrapf(err, "connect tunnel %s", t.addr)
	}

	t.tunnel = tunnel
	t.in = make(chan cemi.Message, inboundBuffer)
	t.conn = nil
	t.seq = 0
	go t.pump(tunnel.Inbound(), t.in)
	t.logDebug("tunnel opened", "gateway", t.addr)
	return nil
}

// pump moves inbound messages to out so the tunnel is never blocked between
// requests.
func (t *Transport) pump(inbound <-chan cemi.Message, out chan<- cemi.Message) {
	defer close(out)
	for msg := range inbound {
		select {
		case out <- msg:
		default:
			t.logDebug("inbound queue full, dropping message")
		}
	}
}

// Close disconnects from the device and closes the tunnel. Closing a closed
// transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tunnel == nil {
		return nil
	}
	if t.conn != nil {
		_ = t.tunnel.Send(t.frame(t.conn.dst, false, transport.PrioritySystem,
			&cemi.ControlData{Command: tDisconnect}))
		t.conn = nil
	}
	t.tunnel.Close()
	t.tunnel = nil
	t.logDebug("tunnel closed", "gateway", t.addr)
	return nil
}

// IsOpen reports whether the tunnel is connected.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tunnel != nil
}

// CurrentSequenceNumber returns the number of update telegrams the device
// acknowledged since the transport was opened.
func (t *Transport) CurrentSequenceNumber() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq, t.tunnel != nil
}

// Send transmits an update telegram and returns the device's response.
func (t *Transport) Send(ctx context.Context, dst transport.Destination, asdu []byte) ([]byte, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	resp, err := t.exchange(ctx, dst, apciUserMsgWrite, asdu, apciUserMsgResponse)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.seq++
	t.mu.Unlock()
	return resp, nil
}

// Restart restarts the device into its application. The device drops the
// connection, so a missing acknowledgement is not an error.
func (t *Transport) Restart(ctx context.Context, dst transport.Destination) error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.config.AckTimeout)
	defer cancel()

	_, err := t.exchange(ctx, dst, apciRestart, nil, 0)
	t.forget(dst.Address)
	if errors.Is(err, transport.ErrTimeout) || errors.Is(err, transport.ErrDisconnected) {
		t.logDebug("restart not acknowledged", "device", dst.Address)
		return nil
	}
	return err
}

// RestartToBootloader sends a master reset and returns the restart time the
// device reports.
func (t *Transport) RestartToBootloader(ctx context.Context, dst transport.Destination, eraseCode, channel byte) (time.Duration, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	resp, err := t.exchange(ctx, dst, apciRestart|uint16(restartMaster), []byte{eraseCode, channel}, apciRestartResponse)
	t.forget(dst.Address)
	if err != nil {
		return 0, err
	}
	if len(resp) < 3 {
		return 0, errors.Wrapf(transport.ErrInvalidResponse, "master reset response too short: %d bytes", len(resp))
	}
	if code := resp[0]; code != 0 {
		return 0, errors.Errorf("master reset rejected by %s: error code %d", dst.Address, code)
	}
	seconds := uint16(resp[1])<<8 | uint16(resp[2])
	return time.Duration(seconds) * time.Second, nil
}

// ProgrammingModeDevices broadcasts an individual address read and collects
// the answers for the configured window, or until ctx expires.
func (t *Transport) ProgrammingModeDevices(ctx context.Context) ([]transport.Address, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	tunnel, in, err := t.link()
	if err != nil {
		return nil, err
	}
	req := t.frame(0, true, transport.PrioritySystem, appData(apciIndividualAddrRead, false, 0, nil))
	if err := tunnel.Send(req); err != nil {
		t.drop(tunnel)
		return nil, errors.Wrapf(transport.ErrLinkClosed, "send: %v", err)
	}

	window := time.NewTimer(t.config.ProgModeWindow)
	defer window.Stop()

	var addrs []transport.Address
	seen := make(map[transport.Address]bool)
	for {
		select {
		case <-window.C:
			return addrs, nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return addrs, nil
			}
			return nil, ctx.Err()
		case msg, ok := <-in:
			if !ok {
				t.drop(tunnel)
				return nil, transport.ErrLinkClosed
			}
			ind, ok := msg.(*cemi.LDataInd)
			if !ok {
				continue
			}
			app, ok := ind.Data.(*cemi.AppData)
			if !ok {
				continue
			}
			if apci, _ := apciOf(app); apci != apciIndividualAddrResponse {
				continue
			}
			src := transport.Address(ind.Source)
			if !seen[src] {
				seen[src] = true
				addrs = append(addrs, src)
			}
		}
	}
}

// exchange sends a numbered APDU to dst in a transport connection and waits
// for its T_Ack and, unless want is 0, a response with APCI want.
func (t *Transport) exchange(ctx context.Context, dst transport.Destination, apci uint16, data []byte, want uint16) ([]byte, error) {
	tunnel, in, err := t.link()
	if err != nil {
		return nil, err
	}
	conn, err := t.connect(tunnel, dst)
	if err != nil {
		return nil, err
	}

	if err := tunnel.Send(t.frame(dst.Address, false, dst.Priority, appData(apci, true, conn.send, data))); err != nil {
		t.drop(tunnel)
		return nil, errors.Wrapf(transport.ErrLinkClosed, "send: %v", err)
	}

	acked := false
	var resp []byte
	for {
		select {
		case <-ctx.Done():
			if acked {
				// the device processed the telegram, only its answer is missing
				conn.send = (conn.send + 1) & 0x0F
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, transport.ErrTimeout
			}
			return nil, ctx.Err()

		case msg, ok := <-in:
			if !ok {
				t.drop(tunnel)
				return nil, transport.ErrLinkClosed
			}

			switch m := msg.(type) {
			case *cemi.LDataCon:
				if m.Destination == uint16(dst.Address) && m.Control1&cemi.Control1HasError != 0 {
					return nil, errors.Wrap(transport.ErrTimeout, "telegram not confirmed by the bus")
				}
				continue
			case *cemi.LDataInd:
				if transport.Address(m.Source) != dst.Address {
					continue
				}
				switch tu := m.Data.(type) {
				case *cemi.ControlData:
					switch {
					case !tu.Numbered && tu.Command == tDisconnect:
						t.forget(dst.Address)
						return nil, transport.ErrDisconnected
					case tu.Numbered && tu.Command == tAck && tu.SeqNumber == conn.send:
						acked = true
					case tu.Numbered && tu.Command == tNak:
						return nil, errors.Wrapf(transport.ErrInvalidResponse, "T_NAK for sequence %d", tu.SeqNumber)
					}
				case *cemi.AppData:
					if !tu.Numbered {
						continue
					}
					if err := tunnel.Send(t.frame(dst.Address, false, dst.Priority,
						&cemi.ControlData{Numbered: true, SeqNumber: tu.SeqNumber, Command: tAck})); err != nil {
						t.drop(tunnel)
						return nil, errors.Wrapf(transport.ErrLinkClosed, "send ack: %v", err)
					}
					if tu.SeqNumber != conn.recv {
						t.logDebug("repeated telegram", "device", dst.Address, "seq", tu.SeqNumber)
						continue
					}
					conn.recv = (conn.recv + 1) & 0x0F
					got, payload := apciOf(tu)
					if want != 0 && got == want {
						resp = append([]byte(nil), payload...)
					}
				}
			}

			if acked && (want == 0 || resp != nil) {
				conn.send = (conn.send + 1) & 0x0F
				return resp, nil
			}
		}
	}
}

// connect returns the connection to dst, opening it with T_Connect if needed.
// A connection to another device is closed first.
func (t *Transport) connect(tunnel Tunnel, dst transport.Destination) (*connection, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil && conn.dst == dst.Address {
		return conn, nil
	}
	if conn != nil {
		_ = tunnel.Send(t.frame(conn.dst, false, dst.Priority, &cemi.ControlData{Command: tDisconnect}))
	}
	if err := tunnel.Send(t.frame(dst.Address, false, dst.Priority, &cemi.ControlData{Command: tConnect})); err != nil {
		t.drop(tunnel)
		return nil, errors.Wrapf(transport.ErrLinkClosed, "connect: %v", err)
	}
	t.logDebug("transport connection opened", "device", dst.Address)

	conn = &connection{dst: dst.Address}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return conn, nil
}

// forget drops the connection state for addr.
func (t *Transport) forget(addr transport.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && t.conn.dst == addr {
		t.conn = nil
	}
}

func (t *Transport) link() (Tunnel, <-chan cemi.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tunnel == nil {
		return nil, nil, transport.ErrNotOpen
	}
	return t.tunnel, t.in, nil
}

// drop forgets a failed tunnel unless it was already replaced.
func (t *Transport) drop(tunnel Tunnel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tunnel == tunnel {
		tunnel.Close()
		t.tunnel = nil
		t.conn = nil
	}
}

func (t *Transport) frame(dst transport.Address, group bool, prio transport.Priority, tu cemi.TransportUnit) *cemi.LDataReq {
	ctrl2 := cemi.Control2Hops(t.config.HopCount)
	if group {
		ctrl2 |= cemi.Control2GroupAddr
	}
	return &cemi.LDataReq{LData: cemi.LData{
		Control1:    cemi.Control1StdFrame | cemi.Control1NoRepeat | cemi.Control1NoSysBroadcast | cemi.Control1Prio(cemi.Priority(prio)),
		Control2:    ctrl2,
		Destination: uint16(dst),
		Data:        tu,
	}}
}

func (t *Transport) logDebug(msg string, keysAndValues ...interface{}) {
	if t.config.Logger != nil {
		t.config.Logger.Debug(msg, keysAndValues...)
	}
}
