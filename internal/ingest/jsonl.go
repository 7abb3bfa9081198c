package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// MaxFrameBytes bounds one encoded frame.
const MaxFrameBytes = 1 << 20

// ReadStats summarises a finished read.
type ReadStats struct {
	Frames  int `json:"frames"`
	Skipped int `json:"skipped"`
}

// ReadJSONL decodes one frame per line and hands each to fn. Blank lines and
// lines starting with '#' are ignored. Lines that fail to decode are logged
// and skipped.
func ReadJSONL(ctx context.Context, r io.Reader, fn FrameHandler) (ReadStats, error) {
	var stats ReadStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)

	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}

		f, err := DecodeFrame(text)
		if err != nil {
			stats.Skipped++
			opsf("line %d: %v", line, err)
			continue
		}
		if err := fn(f); err != nil {
			return stats, err
		}
		stats.Frames++
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read failed after line %d: %w", line, err)
	}
	diagf("Read %d frames (%d skipped) from %d lines", stats.Frames, stats.Skipped, line)
	return stats, nil
}
