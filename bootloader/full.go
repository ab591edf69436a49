package bootloader

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-busupdater/image"
	"github.com/moffa90/go-busupdater/protocol"
)

// flashFull sends the whole image block by block. Each block is streamed
// into the device's ram buffer and then programmed with its CRC32.
func (s *Session) flashFull(ctx context.Context, img *image.BinImage, eraseRange bool) (*ResponseResult, error) {
	total := &ResponseResult{}

	if eraseRange {
		s.setState(StateErasing)
		s.reportProgress(Progress{Phase: PhaseErasing, Mode: ModeFull, TotalBytes: img.Length()})
		if err := s.eraseRange(ctx, img.StartAddress(), img.Length()); err != nil {
			return total, err
		}
	}

	s.setState(StateFlashing)
	blockSize := s.blockSize()
	data := img.Data()
	tracker := newProgressTracker(s, ModeFull, len(data))

	s.log.info("sending application data",
		"bytes", len(data),
		"block_size", blockSize,
		"telegram_delay", s.config.TelegramDelay.String(),
	)

	for pos := 0; pos < len(data); {
		end := pos + blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[pos:end]
		address := img.StartAddress() + uint32(pos)

		blockStart := time.Now()
		if err := s.flashBlock(ctx, block, address, blockSize, total); err != nil {
			return total, err
		}

		pos = end
		total.Written += len(block)
		tracker.block(total.Written, len(block), time.Since(blockStart), total)

		if s.config.LogStatistics {
			s.logStatistic(ctx)
		}
	}
	return total, nil
}

// flashBlock sends and programs one block. A byte count mismatch resends
// the block unchanged, up to MaxBlockResends times.
func (s *Session) flashBlock(ctx context.Context, block []byte, address uint32, blockSize int, total *ResponseResult) error {
	crc := protocol.CRC32(block)
	program, err := protocol.BuildProgramPayload(len(block), address, crc)
	if err != nil {
		return err
	}

	for resends := 0; ; resends++ {
		sent, err := s.sendData(ctx, protocol.CmdSendData, block)
		total.Add(sent)
		if err != nil {
			return fmt.Errorf("send block at 0x%04X: %w", address, err)
		}

		s.log.debug("programming block", "address", fmt.Sprintf("0x%04X", address), "length", len(block), "crc32", fmt.Sprintf("0x%08X", crc))
		res, err := s.ch.SendWithRetry(ctx, protocol.CmdProgram, program, s.config.DataRetry)
		total.Add(res)
		if err != nil {
			return fmt.Errorf("program block at 0x%04X: %w", address, err)
		}

		err = res.Response.Expect("program")
		if err == nil {
			return nil
		}

		result, _ := protocol.ResultOf(err)
		switch {
		case result.IsBytecountMismatch() && resends < s.config.MaxBlockResends:
			s.log.warn("device received wrong byte count, resending block",
				"address", fmt.Sprintf("0x%04X", address), "result", result, "resend", resends+1)
		case result == protocol.ResultIAPCompareError:
			return &BlockCompareError{Address: address, BlockSize: blockSize, Err: err}
		default:
			return fmt.Errorf("program block at 0x%04X: %w", address, err)
		}
	}
}

// blockSize returns the block size for the negotiated protocol, or the
// configured override.
func (s *Session) blockSize() int {
	size := s.ch.ProtocolVersion().BlockSize()
	if s.config.BlockSize == 0 {
		return size
	}
	if s.ch.ProtocolVersion() == protocol.ProtocolV0 {
		s.log.warn("block size cannot be changed with the legacy protocol", "block_size", size)
		return size
	}
	return s.config.BlockSize
}

// progressTracker turns block completions into Progress reports.
type progressTracker struct {
	s     *Session
	mode  Mode
	total int
	start time.Time
}

func newProgressTracker(s *Session, mode Mode, total int) *progressTracker {
	return &progressTracker{s: s, mode: mode, total: total, start: time.Now()}
}

// block reports done bytes of total after a block of n bytes took d.
func (t *progressTracker) block(done, n int, d time.Duration, counters *ResponseResult) {
	elapsed := time.Since(t.start)
	p := Progress{
		Phase:        PhaseFlashing,
		Mode:         t.mode,
		BytesWritten: done,
		TotalBytes:   t.total,
		TimeoutCount: counters.TimeoutCount,
		DropCount:    counters.DropCount,
		ElapsedTime:  elapsed,
	}
	if t.total > 0 {
		p.Percentage = 100 * float64(done) / float64(t.total)
	}
	if d > 0 {
		p.BytesPerSecond = float64(n) / d.Seconds()
	}
	if elapsed > 0 {
		p.AverageBytesPerSecond = float64(done) / elapsed.Seconds()
	}
	t.s.reportProgress(p)
}
