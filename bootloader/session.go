package bootloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moffa90/go-busupdater/cache"
	"github.com/moffa90/go-busupdater/image"
	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

// Summary describes a finished update.
type Summary struct {
	// Mode is the flash mode that was used
	Mode Mode

	// UID is the unique ID the device was unlocked with
	UID []byte

	// Identity is the bootloader identity reported by the device
	Identity protocol.BootloaderIdentity

	// Previous is the boot descriptor found on the device
	Previous protocol.BootDescriptor

	// Descriptor is the boot descriptor written for the new image
	Descriptor protocol.BootDescriptor

	// PreviousAppVersion is the application version reported before the update
	PreviousAppVersion string

	// AppVersion is the application version found in the new image
	AppVersion string

	// BytesWritten is the number of image bytes flashed
	BytesWritten int

	// BytesSent is the number of data bytes sent (diff bytes in differential mode)
	BytesSent int

	// TimeoutCount is the number of response timeouts
	TimeoutCount int

	// DropCount is the number of dropped connections
	DropCount int

	// Duration is the time the update took
	Duration time.Duration
}

// Session drives the bootloader of one device through an update: unlocking,
// flashing, writing the boot descriptor and restarting.
//
// Session is not safe for concurrent use. It owns the transport.
type Session struct {
	t      transport.Transport
	device transport.Address
	config Config
	ch     *Channel
	log    logger

	state    State
	unlocked bool
	uid      []byte
	identity protocol.BootloaderIdentity
}

// New creates a session for the device at addr, which must be in programming
// mode by the time Update is called.
//
// Example:
//
//	gw := gateway.New("/dev/ttyUSB0")
//	s := bootloader.New(gw, transport.NewAddress(15, 15, 192),
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithCache(c),
//	)
func New(t transport.Transport, device transport.Address, opts ...Option) *Session {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		t:      t,
		device: device,
		config: cfg,
		ch:     newChannel(t, device, cfg),
		log:    logger{cfg.Logger},
	}
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// Channel returns the command channel to the device.
func (s *Session) Channel() *Channel { return s.ch }

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.log.debug("state change", "from", s.state, "to", state)
	s.state = state
	if s.config.StateCallback != nil {
		s.config.StateCallback(state)
	}
}

// Open opens the transport. With WithNormalModeDevice the device is then
// restarted into its bootloader. If that fails the transport is closed again.
func (s *Session) Open(ctx context.Context) error {
	if err := s.t.Open(ctx); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	s.setState(StateConnected)

	if s.config.NormalModeDevice != nil {
		if err := s.restartToBootloader(ctx, *s.config.NormalModeDevice); err != nil {
			if cerr := s.Close(); cerr != nil {
				s.log.warn("close transport failed", "error", cerr)
			}
			return err
		}
	}
	return nil
}

// Close closes the transport.
func (s *Session) Close() error {
	err := s.t.Close()
	if s.state != StateDone && s.state != StateFailed {
		s.setState(StateDisconnected)
	}
	return err
}

func (s *Session) restartToBootloader(ctx context.Context, addr transport.Address) error {
	// nothing else may be in programming mode, or we could flash the wrong device
	if err := s.checkProgrammingMode(ctx, nil); err != nil {
		return err
	}

	s.log.info("restarting device into bootloader", "device", addr)
	dst := transport.NewDestination(addr, s.config.Priority)
	wait, err := s.t.RestartToBootloader(ctx, dst, protocol.RestartEraseCode, protocol.RestartChannel)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx.Err())
		}
		s.log.warn("restart state of device unknown", "device", addr, "error", err)
		wait = 0
	}
	if wait == 0 {
		wait = protocol.DefaultRestartTime
	}
	s.log.info("waiting for device to restart", "device", addr, "wait", wait)
	return sleep(ctx, wait)
}

// CheckProgrammingMode verifies that the session's device is in programming
// mode. Other devices in programming mode are tolerated with a warning.
func (s *Session) CheckProgrammingMode(ctx context.Context) error {
	return s.checkProgrammingMode(ctx, &s.device)
}

func (s *Session) checkProgrammingMode(ctx context.Context, expected *transport.Address) error {
	devices, err := s.t.ProgrammingModeDevices(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx.Err())
		}
		return fmt.Errorf("read programming mode devices: %w", err)
	}

	if expected == nil {
		if len(devices) == 0 {
			return nil
		}
		return &ProgrammingModeError{Found: devices}
	}

	for _, d := range devices {
		if d == *expected {
			if len(devices) > 1 {
				s.log.warn("multiple devices in programming mode", "devices", devices)
			}
			return nil
		}
	}
	return &ProgrammingModeError{Expected: expected, Found: devices}
}

// Update flashes img to the device and writes its boot descriptor:
//  1. Check that the device is in programming mode
//  2. Unlock the device with its UID
//  3. Check bootloader compatibility and the image offset
//  4. Flash the image, differentially if the cache holds the device's image
//  5. Write and verify the boot descriptor
//  6. Restart the device
//
// A failure after unlocking restarts the device, unless ctx was cancelled.
// Cancellation returns ErrInterrupted and leaves the device in bootloader mode.
func (s *Session) Update(ctx context.Context, img *image.BinImage) (*Summary, error) {
	if img == nil {
		return nil, fmt.Errorf("image cannot be nil")
	}
	if s.state == StateDisconnected {
		return nil, fmt.Errorf("session not open")
	}

	summary, err := s.update(ctx, img)
	if err != nil {
		s.fail(err)
		return summary, err
	}
	return summary, nil
}

func (s *Session) update(ctx context.Context, img *image.BinImage) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	if err := s.CheckProgrammingMode(ctx); err != nil {
		return summary, err
	}

	if err := s.unlock(ctx); err != nil {
		return summary, err
	}
	summary.UID = s.uid

	identity, err := s.RequestIdentity(ctx)
	if err != nil {
		return summary, err
	}
	summary.Identity = identity
	s.setState(StateUnlocked)

	if s.config.DumpFlash {
		if err := s.DumpFlash(ctx, s.config.DumpStart, s.config.DumpEnd); err != nil {
			return summary, err
		}
	}

	summary.PreviousAppVersion = s.requestAppVersion(ctx)

	appVersionOffset := s.appVersionOffset(img)
	summary.AppVersion = img.AppVersionAt(appVersionOffset)

	if err := s.checkOffset(img); err != nil {
		return summary, err
	}

	if s.config.Cache != nil {
		if _, err := s.config.Cache.Store(img); err != nil {
			s.log.warn("could not cache image", "error", err)
		}
	}

	previous, err := s.RequestBootDescriptor(ctx)
	if err != nil {
		return summary, err
	}
	summary.Previous = previous

	if s.config.EraseFlash {
		s.setState(StateErasing)
		if err := s.EraseFlash(ctx); err != nil {
			return summary, err
		}
	}

	mode, baseline := s.selectMode(previous, img)
	summary.Mode = mode

	if !s.config.NoFlash {
		var result *ResponseResult
		var sent int
		if mode == ModeDifferential {
			result, sent, err = s.flashDifferential(ctx, baseline, img)
		} else {
			result, err = s.flashFull(ctx, img, !s.config.EraseFlash)
			sent = img.Length()
		}
		if result != nil {
			summary.TimeoutCount += result.TimeoutCount
			summary.DropCount += result.DropCount
			summary.BytesWritten = result.Written
		}
		if err != nil {
			return summary, err
		}
		summary.BytesSent = sent
		s.logStatistic(ctx)
	} else {
		s.log.warn("flashing disabled, only the boot descriptor will be written")
	}

	s.setState(StateVerifying)
	desc := img.Descriptor(appVersionOffset)
	s.log.info("writing boot descriptor", "descriptor", desc)
	result, err := s.programBootDescriptor(ctx, desc)
	if result != nil {
		summary.TimeoutCount += result.TimeoutCount
		summary.DropCount += result.DropCount
	}
	if err != nil {
		return summary, err
	}
	summary.Descriptor = desc

	s.setState(StateRestarting)
	s.log.info("restarting device", "device", s.device)
	if err := s.t.Restart(ctx, s.ch.Destination()); err != nil {
		if ctx.Err() != nil {
			return summary, interrupted(ctx.Err())
		}
		s.log.warn("restart not confirmed", "device", s.device, "error", err)
	}

	if strings.Contains(summary.AppVersion, protocol.BootloaderUpdaterID) && s.config.BootloaderUpdaterWait > 0 {
		s.log.info("waiting for bootloader updater to finish", "wait", s.config.BootloaderUpdaterWait)
		if err := sleep(ctx, s.config.BootloaderUpdaterWait); err != nil {
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	s.setState(StateDone)
	s.reportProgress(Progress{
		Phase:        PhaseComplete,
		Mode:         mode,
		BytesWritten: summary.BytesWritten,
		TotalBytes:   summary.BytesWritten,
		Percentage:   100,
		TimeoutCount: summary.TimeoutCount,
		DropCount:    summary.DropCount,
		ElapsedTime:  summary.Duration,
	})
	s.log.info("update complete",
		"mode", mode,
		"bytes", summary.BytesWritten,
		"elapsed", summary.Duration.String(),
	)
	return summary, nil
}

// fail marks the session failed and, once the device was unlocked, restarts
// it so it does not stay in the bootloader.
func (s *Session) fail(err error) {
	s.setState(StateFailed)
	s.log.error("update failed", "error", err)

	if !s.unlocked || errors.Is(err, ErrInterrupted) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ResponseTimeout)
	defer cancel()
	if rerr := s.t.Restart(ctx, s.ch.Destination()); rerr != nil {
		s.log.warn("restart after failure failed", "device", s.device, "error", rerr)
	}
}

func (s *Session) unlock(ctx context.Context) error {
	uid := s.config.UID
	if len(uid) == 0 {
		var err error
		if uid, err = s.RequestUID(ctx); err != nil {
			return err
		}
	}
	s.uid = uid
	s.setState(StateIdentified)

	payload, err := protocol.BuildUnlockPayload(uid)
	if err != nil {
		return err
	}
	s.log.info("unlocking device", "device", s.device, "uid", fmt.Sprintf("% X", uid))
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdUnlockDevice, payload, s.config.MaxCommandRetry)
	if err != nil {
		return err
	}
	if err := res.Response.Expect("unlock device"); err != nil {
		return err
	}
	s.unlocked = true
	return nil
}

// RequestUID reads the unique ID the device is unlocked with.
func (s *Session) RequestUID(ctx context.Context) ([]byte, error) {
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdRequestUID, nil, s.config.MaxCommandRetry)
	if err != nil {
		return nil, err
	}
	uid, err := protocol.ParseUIDResponse(res.Response)
	if err != nil {
		return nil, err
	}
	uid = uid[:protocol.UIDLength]
	s.log.debug("received uid", "uid", fmt.Sprintf("% X", uid))
	return uid, nil
}

// RequestIdentity reads the bootloader identity and checks that tool and
// bootloader are compatible. The protocol version of the channel is set
// from the identity.
func (s *Session) RequestIdentity(ctx context.Context) (protocol.BootloaderIdentity, error) {
	payload := protocol.BuildIdentityRequestPayload(s.config.ToolVersion)
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdRequestBLIdentity, payload, s.config.MaxCommandRetry)
	if err != nil {
		return protocol.BootloaderIdentity{}, err
	}

	identity, err := protocol.ParseIdentityResponse(res.Response)
	if err != nil {
		var vm *protocol.VersionMismatchError
		if errors.As(err, &vm) {
			return protocol.BootloaderIdentity{}, &ProtocolMismatchError{Required: vm.Required, ToolTooOld: true}
		}
		return protocol.BootloaderIdentity{}, err
	}
	s.log.info("bootloader identity", "identity", identity)

	if identity.Version.Less(s.config.MinBootloaderVersion) {
		return identity, &ProtocolMismatchError{Bootloader: identity.Version, Required: s.config.MinBootloaderVersion}
	}

	s.identity = identity
	s.ch.SetProtocolVersion(identity.ProtocolVersion())
	s.log.debug("protocol version", "version", identity.ProtocolVersion())
	return identity, nil
}

// RequestBootDescriptor reads the boot descriptor of the installed application.
func (s *Session) RequestBootDescriptor(ctx context.Context) (protocol.BootDescriptor, error) {
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdRequestBootDesc, nil, s.config.MaxCommandRetry)
	if err != nil {
		return protocol.BootDescriptor{}, err
	}
	desc, err := protocol.ParseBootDescriptorResponse(res.Response)
	if err != nil {
		return protocol.BootDescriptor{}, err
	}
	s.log.info("current firmware", "descriptor", desc)
	return desc, nil
}

func (s *Session) requestAppVersion(ctx context.Context) string {
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdAppVersionRequest, nil, s.config.MaxCommandRetry)
	if err != nil {
		s.log.warn("app version request failed", "error", err)
		return ""
	}
	version, err := protocol.ParseAppVersionResponse(res.Response)
	if err != nil {
		s.log.warn("app version request failed", "error", err)
		return ""
	}
	s.log.info("current app version", "version", version)
	return version
}

func (s *Session) appVersionOffset(img *image.BinImage) uint32 {
	if offset := s.config.AppVersionOffset; offset != 0 {
		if img.IsAppVersionOffset(offset) {
			s.log.info("app version set manually", "offset", fmt.Sprintf("0x%X", offset), "version", img.AppVersionAt(offset))
			return offset
		}
		s.log.warn("ignoring invalid app version offset", "offset", fmt.Sprintf("0x%X", offset))
	}

	offset := img.AppVersionOffset()
	if offset == 0 {
		s.log.warn("app version string not found, using 0")
		return 0
	}
	s.log.info("found app version", "offset", fmt.Sprintf("0x%X", offset), "version", img.AppVersionAt(offset))
	return offset
}

func (s *Session) checkOffset(img *image.BinImage) error {
	first := s.identity.ApplicationFirstAddress
	switch {
	case img.StartAddress() < first:
		return &OffsetError{ImageStart: img.StartAddress(), ApplicationFirstAddress: first}
	case img.StartAddress() == first:
		s.log.debug("firmware starts directly beyond bootloader")
	default:
		s.log.info("unused flash between bootloader and firmware", "bytes", img.StartAddress()-first)
	}
	return nil
}

// selectMode picks differential mode when the cache holds the image the
// device runs and it starts where the new one does.
func (s *Session) selectMode(current protocol.BootDescriptor, img *image.BinImage) (Mode, *image.BinImage) {
	switch {
	case s.config.FullFlash:
		return ModeFull, nil
	case s.config.EraseFlash:
		s.log.info("flash erased, using full mode")
		return ModeFull, nil
	case s.config.Cache == nil:
		return ModeFull, nil
	case !current.Valid():
		s.log.warn("boot descriptor not valid, using full mode")
		return ModeFull, nil
	case s.ch.ProtocolVersion() == protocol.ProtocolV0:
		s.log.warn("bootloader does not support differential mode, using full mode")
		return ModeFull, nil
	}

	key := cache.KeyFromDescriptor(current)
	baseline, found, err := s.config.Cache.Load(key)
	if err != nil {
		s.log.warn("cache lookup failed, using full mode", "error", err)
		return ModeFull, nil
	}
	if !found {
		s.log.warn("current firmware not in cache, using full mode", "file", key.FileName())
		return ModeFull, nil
	}
	if baseline.StartAddress() != img.StartAddress() {
		s.log.warn("start address changed, using full mode",
			"old", fmt.Sprintf("0x%04X", baseline.StartAddress()),
			"new", fmt.Sprintf("0x%04X", img.StartAddress()))
		return ModeFull, nil
	}
	s.log.info("using differential mode", "baseline", baseline)
	return ModeDifferential, baseline
}

// EraseFlash erases the complete application flash.
func (s *Session) EraseFlash(ctx context.Context) error {
	s.log.warn("erasing the entire application flash")
	res, err := s.ch.sendWithRetry(ctx, protocol.CmdEraseCompleteFlash, nil, s.config.MaxCommandRetry, s.eraseTimeout())
	if err != nil {
		return err
	}
	return res.Response.Expect("erase complete flash")
}

// eraseRange erases the flash sectors holding [start, start+length).
func (s *Session) eraseRange(ctx context.Context, start uint32, length int) error {
	end := start + uint32(length) - 1
	payload, err := protocol.BuildAddressRangePayload(start, end)
	if err != nil {
		return err
	}
	s.log.info("erasing address range", "start", fmt.Sprintf("0x%04X", start), "end", fmt.Sprintf("0x%04X", end))
	res, err := s.ch.sendWithRetry(ctx, protocol.CmdEraseAddressRange, payload, s.config.MaxCommandRetry, s.eraseTimeout())
	if err != nil {
		return err
	}
	return res.Response.Expect("erase address range")
}

func (s *Session) eraseTimeout() time.Duration {
	if s.config.EraseTimeout > s.config.ResponseTimeout {
		return s.config.EraseTimeout
	}
	return s.config.ResponseTimeout
}

// DumpFlash makes the bootloader print the flash range [start, end] on its
// serial port. The device must be unlocked. The bootloader is busy while
// dumping, so a missing response is not an error.
func (s *Session) DumpFlash(ctx context.Context, start, end uint32) error {
	payload, err := protocol.BuildAddressRangePayload(start, end)
	if err != nil {
		return err
	}
	s.log.info("dumping flash to the bootloader's serial port",
		"start", fmt.Sprintf("0x%04X", start), "end", fmt.Sprintf("0x%04X", end))
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdDumpFlash, payload, 0)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return nil
		}
		return err
	}
	return res.Response.Expect("dump flash")
}

// RequestStatistic reads the bootloader's connection statistic.
func (s *Session) RequestStatistic(ctx context.Context) (protocol.Statistic, error) {
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdRequestStatistic, nil, s.config.MaxCommandRetry)
	if err != nil {
		return protocol.Statistic{}, err
	}
	return protocol.ParseStatisticResponse(res.Response)
}

func (s *Session) logStatistic(ctx context.Context) {
	stat, err := s.RequestStatistic(ctx)
	if err != nil {
		s.log.warn("statistic request failed", "error", err)
		return
	}
	s.log.info("bootloader statistic", "statistic", stat)
}

// sendData streams data to the device's ram buffer in telegrams of at most
// MaxPayload data bytes, pausing TelegramDelay after each.
func (s *Session) sendData(ctx context.Context, cmd protocol.Command, data []byte) (*ResponseResult, error) {
	total := &ResponseResult{}
	for pos := 0; pos < len(data); {
		n := len(data) - pos
		if n > protocol.MaxPayload {
			n = protocol.MaxPayload
		}
		chunk := data[pos : pos+n]

		payload := chunk
		if cmd == protocol.CmdSendData {
			payload = protocol.BuildSendDataPayload(s.ch.ProtocolVersion(), pos, chunk)
		}

		res, err := s.ch.SendWithRetry(ctx, cmd, payload, s.config.DataRetry)
		total.Add(res)
		if err != nil {
			return total, err
		}
		if err := res.Response.Expect(cmd.String()); err != nil {
			return total, err
		}

		pos += n
		if err := sleep(ctx, s.config.TelegramDelay); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Session) programBootDescriptor(ctx context.Context, desc protocol.BootDescriptor) (*ResponseResult, error) {
	raw, err := desc.MarshalBinary()
	if err != nil {
		return nil, err
	}

	s.reportProgress(Progress{Phase: PhaseDescriptor, TotalBytes: len(raw)})
	total, err := s.sendData(ctx, protocol.CmdSendData, raw)
	if err != nil {
		return total, err
	}

	payload := protocol.BuildUpdateBootDescPayload(raw)
	s.log.debug("updating boot descriptor", "crc32", fmt.Sprintf("0x%08X", protocol.CRC32(raw)), "length", len(raw))
	res, err := s.ch.SendWithRetry(ctx, protocol.CmdUpdateBootDesc, payload, s.config.MaxCommandRetry)
	total.Add(res)
	if err != nil {
		return total, err
	}
	if err := res.Response.Expect("update boot descriptor"); err != nil {
		return total, err
	}
	return total, sleep(ctx, s.config.TelegramDelay)
}

// reportProgress calls the progress callback if configured.
func (s *Session) reportProgress(progress Progress) {
	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(progress)
	}
}
