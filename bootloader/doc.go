// Package bootloader updates the firmware of Selfbus bus devices through their
// bootloader.
//
// # Overview
//
// A Session runs the complete update sequence against one device:
//   - Checking that the device is in programming mode
//   - Unlocking it with its unique ID
//   - Checking bootloader compatibility and the image offset
//   - Flashing the image, in full or differential mode
//   - Writing and verifying the boot descriptor
//   - Restarting the device
//
// Commands are sent through a Channel, which retries timeouts and reconnects
// the transport after lost connections.
//
// # Basic Usage
//
//	img, err := image.ReadHex("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gw := gateway.New("/dev/ttyUSB0")
//	s := bootloader.New(gw, transport.NewAddress(15, 15, 192))
//	if err := s.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	summary, err := s.Update(ctx, img)
//
// # Differential Mode
//
// With WithCache every flashed image is stored on disk. When the boot
// descriptor read from the device matches a cached image, only page diffs
// are sent, which is much faster on a slow bus.
//
//	c := cache.New(dir)
//	s := bootloader.New(gw, addr, bootloader.WithCache(c))
//
// # Progress Tracking
//
//	s := bootloader.New(gw, addr,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% %.0f B/s\n", p.Phase, p.Percentage, p.BytesPerSecond)
//	    }),
//	)
//
// # Error Handling
//
// Failures are reported as typed errors:
//   - *protocol.ProtocolError: the device rejected a command
//   - *ProtocolMismatchError: tool and bootloader versions are incompatible
//   - *OffsetError: the image would overwrite the bootloader
//   - *ProgrammingModeError: the expected device is not in programming mode
//   - *BlockCompareError: a programmed block did not read back correctly
//   - *UpdaterError: a command failed after all retries
//   - ErrInterrupted: the context was cancelled
//
// A failure after unlocking restarts the device. After ErrInterrupted the
// device stays in bootloader mode.
package bootloader
