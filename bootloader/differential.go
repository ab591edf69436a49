package bootloader

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-busupdater/diff"
	"github.com/moffa90/go-busupdater/image"
	"github.com/moffa90/go-busupdater/protocol"
)

// flashDifferential sends the page diffs that turn baseline, the image the
// device runs, into img. It returns the number of diff bytes sent.
//
// Unlike full mode, any negative result is fatal: the device has already
// overwritten the page and cannot take it again.
func (s *Session) flashDifferential(ctx context.Context, baseline, img *image.BinImage) (*ResponseResult, int, error) {
	total := &ResponseResult{}
	strategy := s.config.Strategy

	size, err := diff.Size(strategy, baseline.Data(), img.Data())
	if err != nil {
		return total, 0, fmt.Errorf("compute diff: %w", err)
	}
	s.log.info("sending differential data",
		"diff_bytes", size,
		"image_bytes", img.Length(),
		"telegram_delay", s.config.TelegramDelay.String(),
	)

	s.setState(StateFlashing)
	tracker := newProgressTracker(s, ModeDifferential, size)
	sent := 0
	page := 0

	err = strategy.Diff(baseline.Data(), img.Data(), func(pageDiff []byte, pageCRC uint32) error {
		address := img.StartAddress() + uint32(page*diff.PageSize)
		pageStart := time.Now()

		res, err := s.sendData(ctx, protocol.CmdSendDataToDecompress, pageDiff)
		total.Add(res)
		if err != nil {
			return fmt.Errorf("send diff for page at 0x%04X: %w", address, err)
		}

		s.log.debug("programming page", "address", fmt.Sprintf("0x%04X", address), "diff_bytes", len(pageDiff), "crc32", fmt.Sprintf("0x%08X", pageCRC))
		payload := protocol.BuildProgramDecompressedPayload(pageCRC)
		res, err = s.ch.SendWithRetry(ctx, protocol.CmdProgramDecompressedData, payload, s.config.DataRetry)
		total.Add(res)
		if err != nil {
			return fmt.Errorf("program page at 0x%04X: %w", address, err)
		}
		if err := res.Response.Expect("program decompressed data"); err != nil {
			return fmt.Errorf("program page at 0x%04X: %w", address, err)
		}

		page++
		written := page * diff.PageSize
		if written > img.Length() {
			written = img.Length()
		}
		total.Written = written
		sent += len(pageDiff)
		tracker.block(sent, len(pageDiff), time.Since(pageStart), total)
		return nil
	})
	return total, sent, err
}
