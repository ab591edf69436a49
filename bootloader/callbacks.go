package bootloader

import "time"

// Progress phases.
const (
	PhaseErasing    = "erasing"
	PhaseFlashing   = "flashing"
	PhaseDescriptor = "descriptor"
	PhaseComplete   = "complete"
)

// Progress contains information about the flashing progress.
// Passed to ProgressCallback after every block or page.
type Progress struct {
	// Phase describes the current operation phase:
	//   "erasing"    - Erasing the image address range
	//   "flashing"   - Sending and programming blocks
	//   "descriptor" - Writing the boot descriptor
	//   "complete"   - Update finished successfully
	Phase string

	// Mode is the flash mode in use
	Mode Mode

	// BytesWritten is the number of bytes sent so far; diff bytes in
	// differential mode
	BytesWritten int

	// TotalBytes is the number of bytes that will be sent in this mode
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesPerSecond is the throughput of the last block
	BytesPerSecond float64

	// AverageBytesPerSecond is the throughput since flashing started
	AverageBytesPerSecond float64

	// TimeoutCount is the number of response timeouts so far
	TimeoutCount int

	// DropCount is the number of dropped connections so far
	DropCount int

	// ElapsedTime is the time elapsed since flashing started
	ElapsedTime time.Duration
}

// ProgressCallback is called during flashing to report progress.
// Implementations should return quickly to avoid stretching the telegram timing.
//
// Example:
//
//	s := bootloader.New(gw, addr,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% %.0f B/s\n", p.Phase, p.Percentage, p.BytesPerSecond)
//	    }),
//	)
type ProgressCallback func(Progress)

// StateCallback is called on every session state transition.
type StateCallback func(State)

// Logger is an optional logging interface that can be provided to the session.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Warn(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	s := bootloader.New(gw, addr, bootloader.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Warn logs a warning with optional key-value pairs
	Warn(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// logger wraps an optional Logger.
type logger struct {
	l Logger
}

func (l logger) debug(msg string, keysAndValues ...interface{}) {
	if l.l != nil {
		l.l.Debug(msg, keysAndValues...)
	}
}

func (l logger) info(msg string, keysAndValues ...interface{}) {
	if l.l != nil {
		l.l.Info(msg, keysAndValues...)
	}
}

func (l logger) warn(msg string, keysAndValues ...interface{}) {
	if l.l != nil {
		l.l.Warn(msg, keysAndValues...)
	}
}

func (l logger) error(msg string, keysAndValues ...interface{}) {
	if l.l != nil {
		l.l.Error(msg, keysAndValues...)
	}
}
