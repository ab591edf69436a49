// Command busupdater flashes Selfbus bus devices through a KNXnet/IP
// tunnelling gateway, or a serial gateway speaking the frame format of
// package gateway.
//
// Usage:
//
//	busupdater -knx 192.168.1.10 -f firmware.hex -D 15.15.192
//	busupdater -knx 192.168.1.10:3671 -f firmware.hex -d 1.1.5 -full
//	busupdater -port /dev/ttyUSB0 -f firmware.hex -D 15.15.192
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/moffa90/go-busupdater/bootloader"
	"github.com/moffa90/go-busupdater/cache"
	"github.com/moffa90/go-busupdater/image"
	"github.com/moffa90/go-busupdater/transport"
	"github.com/moffa90/go-busupdater/transport/gateway"
	"github.com/moffa90/go-busupdater/transport/knxip"
)

type options struct {
	knx           string
	port          string
	baud          int
	listPorts     bool
	file          string
	binStart      string
	progDevice    string
	device        string
	uid           string
	priority      string
	delay         time.Duration
	appVersionPtr string
	blockSize     int
	full          bool
	noFlash       bool
	eraseFlash    bool
	dumpFlash     string
	statistic     bool
	noCache       bool
	cacheDir      string
	logLevel      string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.knx, "knx", "", "KNXnet/IP tunnelling gateway, host[:port]")
	flag.StringVar(&o.port, "port", "", "serial port of a gateway speaking the busupdater frame format (instead of -knx)")
	flag.IntVar(&o.baud, "baud", 115200, "baud rate of the serial port")
	flag.BoolVar(&o.listPorts, "list", false, "list serial ports and exit")
	flag.StringVar(&o.file, "f", "", "firmware file (.hex or .bin)")
	flag.StringVar(&o.binStart, "bin-start", "0x7000", "start address of a .bin firmware file")
	flag.StringVar(&o.progDevice, "D", "15.15.192", "device address in bootloader mode")
	flag.StringVar(&o.device, "d", "", "device address in normal operating mode, restarted into the bootloader")
	flag.StringVar(&o.uid, "uid", "", "UID to unlock the device, hex (default: request it)")
	flag.StringVar(&o.priority, "priority", "low", "telegram priority [system|normal|urgent|low]")
	flag.DurationVar(&o.delay, "delay", bootloader.DefaultTelegramDelay, "delay between data telegrams, 0-500ms")
	flag.StringVar(&o.appVersionPtr, "a", "", "offset of the app version string in the firmware, hex")
	flag.IntVar(&o.blockSize, "block-size", 0, "block size in bytes: 256, 512 or 1024 (default: per protocol)")
	flag.BoolVar(&o.full, "full", false, "disable differential mode")
	flag.BoolVar(&o.noFlash, "no-flash", false, "only write the boot descriptor")
	flag.BoolVar(&o.eraseFlash, "erase-flash", false, "erase the complete application flash first")
	flag.StringVar(&o.dumpFlash, "dump-flash", "", "dump flash range start-end (hex) to the bootloader's serial port")
	flag.BoolVar(&o.statistic, "statistic", false, "log the bootloader's bus statistic after every block")
	flag.BoolVar(&o.noCache, "no-cache", false, "do not use the image cache")
	flag.StringVar(&o.cacheDir, "cache-dir", "", "image cache directory (default: user cache directory)")
	flag.StringVar(&o.logLevel, "l", "info", "log level [debug|info|warn|error]")
	flag.Parse()
	return o
}

func main() {
	o := parseFlags()

	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if o.listPorts {
		ports, err := gateway.ListPorts()
		if err != nil {
			logrus.Fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if (o.knx == "") == (o.port == "") || o.file == "" {
		flag.PrintDefaults()
		logrus.Fatal("please provide -f and one of -knx or -port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		if errors.Is(err, bootloader.ErrInterrupted) {
			logrus.Warn("update interrupted, device left in bootloader mode")
			os.Exit(130)
		}
		logrus.Fatal(err)
	}
}

func run(ctx context.Context, o options) error {
	binStart, err := parseHex(o.binStart)
	if err != nil {
		return fmt.Errorf("invalid -bin-start: %w", err)
	}
	img, err := image.Read(o.file, binStart)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"file":        o.file,
		"image":       img,
		"app_version": img.AppVersion(),
	}).Info("firmware loaded")

	progDevice, err := transport.ParseAddress(o.progDevice)
	if err != nil {
		return err
	}

	log := logrusLogger{logrus.StandardLogger()}
	opts, err := sessionOptions(o, log)
	if err != nil {
		return err
	}

	s := bootloader.New(newTransport(o, log), progDevice, opts...)
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.Update(ctx, img)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"mode":     summary.Mode,
		"version":  summary.AppVersion,
		"previous": summary.PreviousAppVersion,
		"written":  summary.BytesWritten,
		"sent":     summary.BytesSent,
		"timeouts": summary.TimeoutCount,
		"drops":    summary.DropCount,
		"duration": summary.Duration.Round(time.Millisecond).String(),
	}).Info("firmware update finished")
	return nil
}

func newTransport(o options, log logrusLogger) transport.Transport {
	if o.port != "" {
		return gateway.New(o.port, gateway.WithBaudRate(o.baud), gateway.WithLogger(log))
	}
	addr := o.knx
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "3671")
	}
	return knxip.New(addr, knxip.WithLogger(log))
}

func sessionOptions(o options, log logrusLogger) ([]bootloader.Option, error) {
	priority, err := transport.ParsePriority(o.priority)
	if err != nil {
		return nil, err
	}
	switch o.blockSize {
	case 0, 256, 512, 1024:
	default:
		return nil, fmt.Errorf("invalid -block-size %d: use 256, 512 or 1024", o.blockSize)
	}

	opts := []bootloader.Option{
		bootloader.WithLogger(log),
		bootloader.WithPriority(priority),
		bootloader.WithTelegramDelay(o.delay),
		bootloader.WithBlockSize(o.blockSize),
		bootloader.WithFullFlash(o.full),
		bootloader.WithNoFlash(o.noFlash),
		bootloader.WithEraseFlash(o.eraseFlash),
		bootloader.WithLogStatistics(o.statistic),
		bootloader.WithProgressCallback(newProgressRenderer().update),
	}

	if o.device != "" {
		addr, err := transport.ParseAddress(o.device)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bootloader.WithNormalModeDevice(addr))
	}

	if o.uid != "" {
		uid, err := hex.DecodeString(strings.NewReplacer(":", "", " ", "", "-", "").Replace(o.uid))
		if err != nil {
			return nil, fmt.Errorf("invalid -uid: %w", err)
		}
		opts = append(opts, bootloader.WithUID(uid))
	}

	if o.appVersionPtr != "" {
		offset, err := parseHex(o.appVersionPtr)
		if err != nil {
			return nil, fmt.Errorf("invalid -a: %w", err)
		}
		opts = append(opts, bootloader.WithAppVersionAddress(offset))
	}

	if o.dumpFlash != "" {
		start, end, ok := strings.Cut(o.dumpFlash, "-")
		if !ok {
			return nil, fmt.Errorf("invalid -dump-flash %q: expected start-end", o.dumpFlash)
		}
		s, err := parseHex(start)
		if err != nil {
			return nil, fmt.Errorf("invalid -dump-flash: %w", err)
		}
		e, err := parseHex(end)
		if err != nil {
			return nil, fmt.Errorf("invalid -dump-flash: %w", err)
		}
		opts = append(opts, bootloader.WithDumpFlash(s, e))
	}

	if !o.noCache {
		dir := o.cacheDir
		if dir == "" {
			if dir, err = cache.DefaultDir(); err != nil {
				return nil, err
			}
		}
		opts = append(opts, bootloader.WithCache(cache.New(dir, cache.WithLogger(log))))
	}
	return opts, nil
}

func parseHex(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	return uint32(v), err
}

// logrusLogger adapts logrus to the key/value loggers of the library.
type logrusLogger struct {
	l *logrus.Logger
}

func (l logrusLogger) entry(keysAndValues []interface{}) *logrus.Entry {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.l.WithFields(fields)
}

func (l logrusLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Debug(msg)
}

func (l logrusLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Info(msg)
}

func (l logrusLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Warn(msg)
}

func (l logrusLogger) Error(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Error(msg)
}

// progressRenderer draws a progress bar on a terminal and falls back to log
// lines otherwise.
type progressRenderer struct {
	tty     bool
	bar     *progressbar.ProgressBar
	lastPct int
}

func newProgressRenderer() *progressRenderer {
	return &progressRenderer{tty: term.IsTerminal(int(os.Stderr.Fd())), lastPct: -1}
}

func (r *progressRenderer) update(p bootloader.Progress) {
	if p.Phase != bootloader.PhaseFlashing {
		if p.Phase == bootloader.PhaseComplete && r.bar != nil {
			_ = r.bar.Finish()
			r.bar = nil
		}
		return
	}

	if !r.tty {
		// one line per 10 percent
		if pct := int(p.Percentage) / 10 * 10; pct != r.lastPct {
			r.lastPct = pct
			logrus.WithFields(logrus.Fields{
				"mode":     p.Mode,
				"bytes":    p.BytesWritten,
				"total":    p.TotalBytes,
				"rate":     fmt.Sprintf("%.0f B/s", p.AverageBytesPerSecond),
				"timeouts": p.TimeoutCount,
				"drops":    p.DropCount,
			}).Infof("%s flashing %d%%", p.Mode, pct)
		}
		return
	}

	if r.bar == nil {
		r.bar = progressbar.NewOptions(p.TotalBytes,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("Flashing (%s)", p.Mode)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}
	_ = r.bar.Set(p.BytesWritten)
}
