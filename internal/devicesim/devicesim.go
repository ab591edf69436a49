// Package devicesim simulates a Selfbus bootloader behind a transport, for
// tests and examples.
package devicesim

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/moffa90/go-busupdater/diff"
	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

// Defaults of a new Device.
var (
	DefaultUID      = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB}
	DefaultIdentity = protocol.BootloaderIdentity{
		Version:                 protocol.Version{Major: 1, Minor: 23},
		Features:                0x0000,
		SblibVersion:            protocol.Version{Major: 2, Minor: 1},
		ApplicationFirstAddress: 0x7000,
	}
)

// DefaultFlashSize is the flash size of a new Device.
const DefaultFlashSize = 0x10000

// Device is an in-memory bootloader that implements transport.Transport.
// Flash starts at address 0 and is erased (0xFF) initially.
type Device struct {
	mu sync.Mutex

	address    transport.Address
	normal     *transport.Address
	uid        []byte
	identity   protocol.BootloaderIdentity
	minTool    protocol.Version
	restart    time.Duration
	statistic  protocol.Statistic
	others     []transport.Address
	flash      []byte
	descriptor [protocol.BootDescriptorSize]byte

	open     bool
	progMode bool
	unlocked bool
	ram      []byte
	decoder  *diff.Decoder
	seq      uint32

	faults   map[protocol.Command][]error
	results  map[protocol.Command][]protocol.Result
	commands []protocol.Command
	payloads [][]byte
	restarts int
}

var (
	_ transport.Transport       = (*Device)(nil)
	_ transport.SequenceCounter = (*Device)(nil)
)

// Option configures a Device.
type Option func(*Device)

// WithUID sets the device's unique ID.
func WithUID(uid []byte) Option {
	return func(d *Device) { d.uid = append([]byte(nil), uid...) }
}

// WithIdentity sets the identity the bootloader reports.
func WithIdentity(id protocol.BootloaderIdentity) Option {
	return func(d *Device) { d.identity = id }
}

// WithMinToolVersion makes the bootloader reject older tools.
func WithMinToolVersion(v protocol.Version) Option {
	return func(d *Device) { d.minTool = v }
}

// WithFlashSize sets the flash size in bytes.
func WithFlashSize(n int) Option {
	return func(d *Device) { d.flash = erased(n) }
}

// WithNormalMode starts the device in its application at addr. A restart
// into the bootloader puts it into programming mode.
func WithNormalMode(addr transport.Address) Option {
	return func(d *Device) {
		d.normal = &addr
		d.progMode = false
	}
}

// WithRestartTime sets the restart time reported on a master reset.
func WithRestartTime(t time.Duration) Option {
	return func(d *Device) { d.restart = t }
}

// WithOtherDevices adds devices that are also in programming mode.
func WithOtherDevices(addrs ...transport.Address) Option {
	return func(d *Device) { d.others = append(d.others, addrs...) }
}

// New returns a device in programming mode at addr.
func New(addr transport.Address, opts ...Option) *Device {
	d := &Device{
		address:  addr,
		uid:      append([]byte(nil), DefaultUID...),
		identity: DefaultIdentity,
		flash:    erased(DefaultFlashSize),
		progMode: true,
		faults:   make(map[protocol.Command][]error),
		results:  make(map[protocol.Command][]protocol.Result),
	}
	for i := range d.descriptor {
		d.descriptor[i] = 0xFF
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func erased(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// InjectError makes the next len(errs) sends of cmd fail with errs, in order,
// before the device sees them.
func (d *Device) InjectError(cmd protocol.Command, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[cmd] = append(d.faults[cmd], errs...)
}

// InjectResult makes the device answer the next len(results) sends of cmd
// with results, in order. The command is processed regardless.
func (d *Device) InjectResult(cmd protocol.Command, results ...protocol.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[cmd] = append(d.results[cmd], results...)
}

// Load writes data to flash at addr, bypassing the bootloader.
func (d *Device) Load(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.flash[addr:], data)
}

// SetDescriptor stores desc as the boot descriptor.
func (d *Device) SetDescriptor(desc protocol.BootDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, _ := desc.MarshalBinary()
	copy(d.descriptor[:], raw)
}

// Flash returns a copy of n bytes of flash at addr.
func (d *Device) Flash(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.flash[addr:int(addr)+n]...)
}

// Descriptor returns the stored boot descriptor.
func (d *Device) Descriptor() protocol.BootDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, _ := protocol.DecodeBootDescriptor(d.descriptor[:])
	return desc
}

// Commands returns the commands received, in order.
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.commands...)
}

// Payloads returns the payloads of every cmd received, in order.
func (d *Device) Payloads(cmd protocol.Command) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][]byte
	for i, c := range d.commands {
		if c == cmd {
			out = append(out, d.payloads[i])
		}
	}
	return out
}

// Count returns how often cmd was received.
func (d *Device) Count(cmd protocol.Command) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

// Restarts returns how often the device was restarted into its application.
func (d *Device) Restarts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restarts
}

// InProgrammingMode reports whether the bootloader is active.
func (d *Device) InProgrammingMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progMode
}

// Open implements transport.Transport.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.seq = 0
	return nil
}

// Close implements transport.Transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// IsOpen implements transport.Transport.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// CurrentSequenceNumber implements transport.SequenceCounter.
func (d *Device) CurrentSequenceNumber() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq, d.open
}

// Send implements transport.Transport.
func (d *Device) Send(ctx context.Context, dst transport.Destination, asdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, transport.ErrNotOpen
	}
	if len(asdu) == 0 || dst.Address != d.address || !d.progMode {
		return nil, transport.ErrTimeout
	}

	cmd := protocol.Command(asdu[0])
	d.commands = append(d.commands, cmd)
	d.payloads = append(d.payloads, append([]byte(nil), asdu[1:]...))
	if errs := d.faults[cmd]; len(errs) > 0 {
		d.faults[cmd] = errs[1:]
		return nil, errs[0]
	}
	d.seq++

	resp := d.handle(cmd, asdu[1:])
	if results := d.results[cmd]; len(results) > 0 {
		d.results[cmd] = results[1:]
		resp = result(results[0])
	}
	if resp == nil {
		// busy, e.g. dumping flash
		return nil, transport.ErrTimeout
	}
	return resp, nil
}

// Restart implements transport.Transport.
func (d *Device) Restart(ctx context.Context, dst transport.Destination) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return transport.ErrNotOpen
	}
	if dst.Address != d.address {
		return transport.ErrTimeout
	}
	d.restarts++
	d.progMode = false
	d.unlocked = false
	d.ram = nil
	d.decoder = nil
	return nil
}

// RestartToBootloader implements transport.Transport.
func (d *Device) RestartToBootloader(ctx context.Context, dst transport.Destination, eraseCode, channel byte) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, transport.ErrNotOpen
	}
	if d.normal == nil || dst.Address != *d.normal || eraseCode != protocol.RestartEraseCode {
		return 0, transport.ErrTimeout
	}
	d.progMode = true
	return d.restart, nil
}

// ProgrammingModeDevices implements transport.Transport.
func (d *Device) ProgrammingModeDevices(ctx context.Context) ([]transport.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, transport.ErrNotOpen
	}
	var addrs []transport.Address
	if d.progMode {
		addrs = append(addrs, d.address)
	}
	return append(addrs, d.others...), nil
}

func result(r protocol.Result) []byte {
	return []byte{byte(protocol.CmdSendLastError), byte(r)}
}

func (d *Device) handle(cmd protocol.Command, p []byte) []byte {
	switch cmd {
	case protocol.CmdRequestUID:
		return append([]byte{byte(protocol.CmdResponseUID)}, d.uid...)
	case protocol.CmdUnlockDevice:
		return d.unlock(p)
	}

	if !d.unlocked {
		return result(protocol.ResultDeviceLocked)
	}

	switch cmd {
	case protocol.CmdRequestBLIdentity:
		return d.identify(p)
	case protocol.CmdAppVersionRequest:
		return d.appVersion()
	case protocol.CmdRequestBootDesc:
		return append([]byte{byte(protocol.CmdResponseBootDesc)}, d.descriptor[:]...)
	case protocol.CmdEraseCompleteFlash:
		d.erase(d.identity.ApplicationFirstAddress, uint32(len(d.flash)-1))
		return result(protocol.ResultSuccess)
	case protocol.CmdEraseAddressRange:
		return d.eraseRange(p)
	case protocol.CmdSendData:
		return d.sendData(p)
	case protocol.CmdProgram:
		return d.program(p)
	case protocol.CmdUpdateBootDesc:
		return d.updateBootDesc(p)
	case protocol.CmdSendDataToDecompress:
		return d.decompress(p)
	case protocol.CmdProgramDecompressedData:
		return d.programDecompressed(p)
	case protocol.CmdRequestStatistic:
		resp := []byte{byte(protocol.CmdResponseStatistic), 0, 0, 0, 0}
		binary.LittleEndian.PutUint16(resp[1:], d.statistic.DisconnectCount)
		binary.LittleEndian.PutUint16(resp[3:], d.statistic.RepeatedTAckCount)
		return resp
	case protocol.CmdDumpFlash:
		return nil
	}
	return result(protocol.ResultUnknownCommand)
}

func (d *Device) unlock(p []byte) []byte {
	if len(p) < protocol.UIDLength || string(p[:protocol.UIDLength]) != string(d.uid[:protocol.UIDLength]) {
		d.unlocked = false
		return result(protocol.ResultUIDMismatch)
	}
	d.unlocked = true
	d.ram = nil
	d.decoder = nil
	return result(protocol.ResultSuccess)
}

func (d *Device) identify(p []byte) []byte {
	if len(p) < 2 {
		return result(protocol.ResultInvalid)
	}
	tool := protocol.Version{Major: p[0], Minor: p[1]}
	if tool.Less(d.minTool) {
		return []byte{byte(protocol.CmdResponseBLVersionMismatch), d.minTool.Major, d.minTool.Minor}
	}
	id := d.identity
	resp := make([]byte, 1+protocol.BootloaderIdentitySize)
	resp[0] = byte(protocol.CmdResponseBLIdentity)
	resp[1], resp[2] = id.Version.Major, id.Version.Minor
	binary.LittleEndian.PutUint16(resp[3:], id.Features)
	resp[5], resp[6] = id.SblibVersion.Major, id.SblibVersion.Minor
	binary.LittleEndian.PutUint32(resp[7:], id.ApplicationFirstAddress)
	return resp
}

func (d *Device) appVersion() []byte {
	desc, _ := protocol.DecodeBootDescriptor(d.descriptor[:])
	addr := int(desc.AppVersionAddress)
	if !desc.Valid() || addr == 0 || addr+protocol.AppVersionLength > len(d.flash) {
		return result(protocol.ResultNoData)
	}
	return append([]byte{byte(protocol.CmdAppVersionResponse)}, d.flash[addr:addr+protocol.AppVersionLength]...)
}

func (d *Device) erase(start, end uint32) {
	first := start &^ (protocol.FlashSectorSize - 1)
	last := end | (protocol.FlashSectorSize - 1)
	if int(last) >= len(d.flash) {
		last = uint32(len(d.flash) - 1)
	}
	for i := first; i <= last; i++ {
		d.flash[i] = 0xFF
	}
}

func (d *Device) eraseRange(p []byte) []byte {
	if len(p) < 8 {
		return result(protocol.ResultInvalid)
	}
	start := binary.LittleEndian.Uint32(p[0:])
	end := binary.LittleEndian.Uint32(p[4:])
	if start < d.identity.ApplicationFirstAddress || end < start || int(end) >= len(d.flash) {
		return result(protocol.ResultAddressRangeNotAllowedToErase)
	}
	d.erase(start, end)
	return result(protocol.ResultSuccess)
}

func (d *Device) legacy() bool {
	return d.identity.ProtocolVersion() == protocol.ProtocolV0
}

func (d *Device) sendData(p []byte) []byte {
	if d.legacy() {
		if len(p) < 1 {
			return result(protocol.ResultInvalid)
		}
		offset := int(p[0])
		data := p[1:]
		if offset+len(data) > protocol.LegacyBlockSize {
			return result(protocol.ResultRAMBufferOverflow)
		}
		if need := offset + len(data); need > len(d.ram) {
			d.ram = append(d.ram, make([]byte, need-len(d.ram))...)
		}
		copy(d.ram[offset:], data)
		return result(protocol.ResultSuccess)
	}
	if len(d.ram)+len(p) > protocol.BlockSize {
		return result(protocol.ResultRAMBufferOverflow)
	}
	d.ram = append(d.ram, p...)
	return result(protocol.ResultSuccess)
}

func (d *Device) program(p []byte) []byte {
	defer func() { d.ram = nil }()
	if len(p) < 10 {
		return result(protocol.ResultInvalid)
	}
	n := int(binary.LittleEndian.Uint16(p[0:]))
	addr := binary.LittleEndian.Uint32(p[2:])
	crc := binary.LittleEndian.Uint32(p[6:])

	switch {
	case len(d.ram) < n:
		return result(protocol.ResultBytecountTooLow)
	case len(d.ram) > n:
		return result(protocol.ResultBytecountTooHigh)
	case protocol.CRC32(d.ram) != crc:
		return result(protocol.ResultCRCError)
	case addr < d.identity.ApplicationFirstAddress || int(addr)+n > len(d.flash):
		return result(protocol.ResultAddressNotAllowedToFlash)
	}
	copy(d.flash[addr:], d.ram)
	return result(protocol.ResultSuccess)
}

func (d *Device) updateBootDesc(p []byte) []byte {
	defer func() { d.ram = nil }()
	if len(p) < 8 {
		return result(protocol.ResultInvalid)
	}
	n := int(binary.LittleEndian.Uint32(p[0:]))
	crc := binary.LittleEndian.Uint32(p[4:])

	switch {
	case n != protocol.BootDescriptorSize:
		return result(protocol.ResultWrongDescriptorBlock)
	case len(d.ram) < n:
		return result(protocol.ResultBytecountTooLow)
	case len(d.ram) > n:
		return result(protocol.ResultBytecountTooHigh)
	case protocol.CRC32(d.ram) != crc:
		return result(protocol.ResultCRCError)
	}
	desc, err := protocol.DecodeBootDescriptor(d.ram)
	if err != nil {
		return result(protocol.ResultWrongDescriptorBlock)
	}
	copy(d.descriptor[:], d.ram)
	if !d.startable(desc) {
		return result(protocol.ResultApplicationNotStartable)
	}
	return result(protocol.ResultSuccess)
}

// startable checks the application the way the bootloader does before
// jumping to it: the range [StartAddress, EndAddress] lies in application
// flash and its CRC32 matches the descriptor.
func (d *Device) startable(desc protocol.BootDescriptor) bool {
	last := uint32(len(d.flash) - 1)
	switch {
	case desc.StartAddress < d.identity.ApplicationFirstAddress || desc.StartAddress > last:
		return false
	case desc.EndAddress > last:
		return false
	case desc.StartAddress >= desc.EndAddress:
		return false
	}
	return protocol.CRC32(d.flash[desc.StartAddress:desc.EndAddress+1]) == desc.CRC32
}

func (d *Device) diffDecoder() *diff.Decoder {
	if d.decoder == nil {
		desc, _ := protocol.DecodeBootDescriptor(d.descriptor[:])
		start := desc.StartAddress
		if !desc.Valid() {
			start = d.identity.ApplicationFirstAddress
		}
		d.decoder = diff.NewDecoder(d.flash[start:])
	}
	return d.decoder
}

func (d *Device) decompress(p []byte) []byte {
	if _, err := d.diffDecoder().Write(p); err != nil {
		d.decoder = nil
		return result(protocol.ResultInvalidData)
	}
	return result(protocol.ResultSuccess)
}

func (d *Device) programDecompressed(p []byte) []byte {
	if len(p) < 4 {
		return result(protocol.ResultInvalid)
	}
	if err := d.diffDecoder().ProgramPage(binary.LittleEndian.Uint32(p)); err != nil {
		if errors.Is(err, diff.ErrPageCRC) {
			return result(protocol.ResultCRCError)
		}
		return result(protocol.ResultFlashError)
	}
	return result(protocol.ResultSuccess)
}
